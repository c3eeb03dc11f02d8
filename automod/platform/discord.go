package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modwarden/warden/automod/cachestore"
	"github.com/modwarden/warden/automod/event"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

const (
	// Discord refuses to bulk delete more than this many messages per request
	bulkDeleteLimit = 100

	memberCacheName = "member"
	rolesCacheName  = "roles"
)

// Platform implementation backed by a Discord bot session.
type Discord struct {
	Session *discordgo.Session
	Cache   cachestore.CacheStore
	// Client-side limit on REST calls, shared by all guilds
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

var _ Platform = (*Discord)(nil)

func NewDiscord(session *discordgo.Session, cache cachestore.CacheStore, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		Session: session,
		Cache:   cache,
		Limiter: rate.NewLimiter(rate.Every(20*time.Millisecond), 10),
		Logger:  logger.With("component", "discord"),
	}
}

func (d *Discord) wait(ctx context.Context) error {
	if d.Limiter == nil {
		return nil
	}
	return d.Limiter.Wait(ctx)
}

func notFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && (restErr.Message.Code == discordgo.ErrCodeUnknownMember || restErr.Message.Code == discordgo.ErrCodeUnknownUser) {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

func memberKey(guildID, userID string) string {
	return guildID + "/" + userID
}

// Resolves a guild member. The gateway state is authoritative, since member and role updates keep it current; the cache only stands in for REST lookups of members the state doesn't hold.
func (d *Discord) ResolveMember(ctx context.Context, guildID, userID string) (*event.Member, error) {
	if d.Session.State != nil {
		if dm, err := d.Session.State.Member(guildID, userID); err == nil && dm != nil {
			return d.convertMember(ctx, guildID, userID, dm)
		}
	}

	if d.Cache != nil {
		m, ok, err := cachestore.GetJSON[event.Member](ctx, d.Cache, memberCacheName, memberKey(guildID, userID))
		if err != nil {
			d.Logger.Warn("member cache read failed", "err", err)
		} else if ok {
			return m, nil
		}
	}

	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	dm, err := d.Session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching member %s: %w", userID, err)
	}
	m, err := d.convertMember(ctx, guildID, userID, dm)
	if err != nil {
		return nil, err
	}
	if d.Cache != nil {
		if err := cachestore.SetJSON(ctx, d.Cache, memberCacheName, memberKey(guildID, userID), m); err != nil {
			d.Logger.Warn("member cache write failed", "err", err)
		}
	}
	return m, nil
}

func (d *Discord) convertMember(ctx context.Context, guildID, userID string, dm *discordgo.Member) (*event.Member, error) {
	roleNames, err := d.roleNames(ctx, guildID)
	if err != nil {
		return nil, err
	}
	m := &event.Member{
		GuildID: guildID,
		UserID:  userID,
	}
	if dm.User != nil {
		m.Bot = dm.User.Bot
	}
	for _, id := range dm.Roles {
		m.Roles = append(m.Roles, event.Role{ID: id, Name: roleNames[id]})
	}
	return m, nil
}

// Drops any cached copy of a member, eg after their roles changed.
func (d *Discord) PurgeMember(ctx context.Context, guildID, userID string) error {
	if d.Cache == nil {
		return nil
	}
	return d.Cache.Purge(ctx, memberCacheName, memberKey(guildID, userID))
}

// Drops the cached role names of a guild, eg after a role was renamed or deleted.
func (d *Discord) PurgeRoles(ctx context.Context, guildID string) error {
	if d.Cache == nil {
		return nil
	}
	return d.Cache.Purge(ctx, rolesCacheName, guildID)
}

func (d *Discord) roleNames(ctx context.Context, guildID string) (map[string]string, error) {
	if d.Session.State != nil {
		if g, err := d.Session.State.Guild(guildID); err == nil && g.Roles != nil {
			names := make(map[string]string, len(g.Roles))
			for _, r := range g.Roles {
				names[r.ID] = r.Name
			}
			return names, nil
		}
	}

	if d.Cache != nil {
		names, ok, err := cachestore.GetJSON[map[string]string](ctx, d.Cache, rolesCacheName, guildID)
		if err == nil && ok {
			return *names, nil
		}
	}

	if err := d.wait(ctx); err != nil {
		return nil, err
	}
	roles, err := d.Session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetching roles of guild %s: %w", guildID, err)
	}
	names := make(map[string]string, len(roles))
	for _, r := range roles {
		names[r.ID] = r.Name
	}
	if d.Cache != nil {
		if err := cachestore.SetJSON(ctx, d.Cache, rolesCacheName, guildID, names); err != nil {
			d.Logger.Warn("role cache write failed", "err", err)
		}
	}
	return names, nil
}

func (d *Discord) enforce(ctx context.Context, op, guildID, userID string, fn func() error) error {
	if err := d.wait(ctx); err != nil {
		return &EnforcementError{Op: op, GuildID: guildID, UserID: userID, Err: err}
	}
	if err := fn(); err != nil {
		return &EnforcementError{Op: op, GuildID: guildID, UserID: userID, Err: err}
	}
	return nil
}

func (d *Discord) Mute(ctx context.Context, guildID, userID, roleID, reason string) error {
	return d.enforce(ctx, "mute", guildID, userID, func() error {
		return d.Session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	})
}

func (d *Discord) Unmute(ctx context.Context, guildID, userID, roleID, reason string) error {
	err := d.enforce(ctx, "unmute", guildID, userID, func() error {
		return d.Session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	})
	// member already left; nothing to reverse
	if notFound(err) {
		return nil
	}
	return err
}

func (d *Discord) Kick(ctx context.Context, guildID, userID, reason string) error {
	return d.enforce(ctx, "kick", guildID, userID, func() error {
		return d.Session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
	})
}

func (d *Discord) Ban(ctx context.Context, guildID, userID, reason string) error {
	return d.enforce(ctx, "ban", guildID, userID, func() error {
		return d.Session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx))
	})
}

func (d *Discord) Unban(ctx context.Context, guildID, userID, reason string) error {
	err := d.enforce(ctx, "unban", guildID, userID, func() error {
		return d.Session.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	})
	if notFound(err) {
		return nil
	}
	return err
}

// Deletes messages in one channel, in bulk where possible.
func (d *Discord) DeleteMessages(ctx context.Context, channelID string, messageIDs []string) error {
	for _, chunk := range chunkIDs(messageIDs, bulkDeleteLimit) {
		if err := d.wait(ctx); err != nil {
			return err
		}
		var err error
		if len(chunk) == 1 {
			// bulk delete endpoint requires at least two messages
			err = d.Session.ChannelMessageDelete(channelID, chunk[0], discordgo.WithContext(ctx))
		} else {
			err = d.Session.ChannelMessagesBulkDelete(channelID, chunk, discordgo.WithContext(ctx))
		}
		if err != nil {
			return fmt.Errorf("deleting messages in channel %s: %w", channelID, err)
		}
	}
	return nil
}

func (d *Discord) SendMessage(ctx context.Context, channelID, content string) error {
	if err := d.wait(ctx); err != nil {
		return err
	}
	_, err := d.Session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		// log lines must never ping anybody
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}, discordgo.WithContext(ctx))
	return err
}

func chunkIDs(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}
