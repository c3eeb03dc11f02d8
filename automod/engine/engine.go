package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/modwarden/warden/automod/config"
	"github.com/modwarden/warden/automod/correlation"
	"github.com/modwarden/warden/automod/countstore"
	"github.com/modwarden/warden/automod/event"
	"github.com/modwarden/warden/automod/modlog"
	"github.com/modwarden/warden/automod/platform"
	"github.com/modwarden/warden/automod/store"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("warden/engine")

const (
	// violations of one member closer together than this are handled once
	DefaultCooldownWindow = 10 * time.Second
	DefaultCooldownTTL    = 60 * time.Second
)

// runtime for evaluating anti-spam rules, dispatching punishments, and filtering echoes of the engine's own actions.
//
// Events of one guild are processed one at a time; events of different guilds run concurrently.
//
// TODO: careful when initializing: several fields should not be null or zero, even though they are pointer type.
type Engine struct {
	Logger       *slog.Logger
	Config       config.Provider
	Counters     countstore.CountStore
	Correlations *correlation.Registry
	Store        store.Store
	Platform     platform.Platform
	ActionLog    modlog.ActionLog
	// user ID of the bot itself; its own messages are never evaluated
	SelfID string
	// Clock; defaults to time.Now
	Now func() time.Time

	CooldownWindow time.Duration
	CooldownTTL    time.Duration

	locksOnce  sync.Once
	guildLocks *xsync.MapOf[string, *sync.Mutex]
}

func (eng *Engine) now() time.Time {
	if eng.Now != nil {
		return eng.Now()
	}
	return time.Now()
}

func (eng *Engine) guildLock(guildID string) *sync.Mutex {
	eng.locksOnce.Do(func() {
		eng.guildLocks = xsync.NewMapOf[string, *sync.Mutex]()
	})
	lk, _ := eng.guildLocks.LoadOrCompute(guildID, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	return lk
}

// Handles one gateway event. Errors are returned only for failures which dropped the event (eg, a counter store outage); enforcement problems are logged instead.
func (eng *Engine) ProcessEvent(ctx context.Context, evt event.Event) (err error) {
	evtType := evt.Type()
	// similar to an HTTP server, we want to recover any panics from event handling
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("automod event execution exception", "err", r, "guild", evt.Guild(), "type", evtType)
			err = fmt.Errorf("panic processing %s event: %v", evtType, r)
		}
	}()

	ctx, span := tracer.Start(ctx, "ProcessEvent", trace.WithAttributes(
		attribute.String("type", evtType),
		attribute.String("guild", evt.Guild()),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		eventProcessDuration.WithLabelValues(evtType).Observe(time.Since(start).Seconds())
		eventProcessCount.WithLabelValues(evtType).Inc()
		if err != nil {
			eventErrorCount.WithLabelValues(evtType).Inc()
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	lk := eng.guildLock(evt.Guild())
	lk.Lock()
	defer lk.Unlock()

	switch e := evt.(type) {
	case *event.MessageCreate:
		return eng.processMessage(ctx, e)
	case *event.GuildMemberRemove:
		return eng.processMemberRemove(ctx, e)
	case *event.GuildBanAdd:
		return eng.processBanAdd(ctx, e)
	case *event.GuildBanRemove:
		return eng.processBanRemove(ctx, e)
	case *event.GuildMemberUpdate:
		return eng.processMemberUpdate(ctx, e)
	case *event.GuildRoleUpdate:
		return eng.processRoleUpdate(ctx, e)
	default:
		eng.Logger.Debug("ignoring unhandled event type", "type", evtType)
		return nil
	}
}

func (eng *Engine) processMessage(ctx context.Context, msg *event.MessageCreate) error {
	logger := eng.Logger.With("guild", msg.GuildID, "author", msg.AuthorID, "message", msg.MessageID)

	if eng.Store != nil {
		err := eng.Store.SaveMessage(ctx, &store.Message{
			ID:        msg.MessageID,
			GuildID:   msg.GuildID,
			ChannelID: msg.ChannelID,
			AuthorID:  msg.AuthorID,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("saving message: %w", err)
		}
	}

	if msg.Bot || msg.WebhookID != "" || (eng.SelfID != "" && msg.AuthorID == eng.SelfID) {
		return nil
	}

	gc, err := eng.Config.GuildConfig(ctx, msg.GuildID)
	if err != nil {
		return fmt.Errorf("loading guild config: %w", err)
	}
	if gc == nil {
		return nil
	}

	member, err := eng.Platform.ResolveMember(ctx, msg.GuildID, msg.AuthorID)
	if err != nil {
		logger.Warn("failed to resolve message author, skipping", "err", err)
		return nil
	}
	if member == nil {
		logger.Debug("message author is not a guild member, skipping")
		return nil
	}
	if member.Bot {
		return nil
	}

	level := gc.LevelFor(member)
	rules := gc.Spam.RelevantRules(member, level)
	if len(rules) == 0 {
		return nil
	}

	v, err := eng.Detect(ctx, msg, rules)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return eng.Violate(ctx, gc, v)
}
