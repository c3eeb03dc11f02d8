package correlation

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/modwarden/warden/automod/event"
	"github.com/modwarden/warden/internal/ticker"

	"github.com/puzpuzpuz/xsync/v3"
)

const (
	DefaultTTL           = 60 * time.Second
	DefaultSweepInterval = 120 * time.Second
)

// Snapshot of a correlation entry, as returned by Find.
type Entry struct {
	GuildID   string
	Selector  map[string]string
	CreatedAt time.Time
	// Event types still expected after this match
	Remaining []string
}

type entry struct {
	guildID    string
	selector   map[string]string
	eventTypes map[string]bool
	createdAt  time.Time
}

func (e *entry) snapshot() *Entry {
	rem := make([]string, 0, len(e.eventTypes))
	for t := range e.eventTypes {
		rem = append(rem, t)
	}
	slices.Sort(rem)
	return &Entry{
		GuildID:   e.guildID,
		Selector:  maps.Clone(e.selector),
		CreatedAt: e.createdAt,
		Remaining: rem,
	}
}

// all queried attributes must be present in the selector with equal values
func (e *entry) matches(attrs map[string]string) bool {
	for k, v := range attrs {
		sv, ok := e.selector[k]
		if !ok || sv != v {
			return false
		}
	}
	return true
}

type guildShard struct {
	lk      sync.Mutex
	entries []*entry
}

// removes e from the shard; caller holds the lock
func (s *guildShard) remove(e *entry) bool {
	idx := slices.Index(s.entries, e)
	if idx < 0 {
		return false
	}
	s.entries = slices.Delete(s.entries, idx, idx+1)
	return true
}

// In-memory registry of expected echo events, sharded by guild.
type Registry struct {
	Logger *slog.Logger
	TTL    time.Duration
	// Clock; overridable for tests
	Now func() time.Time

	shards *xsync.MapOf[string, *guildShard]

	sweepLk sync.Mutex
	sweeper *ticker.Task
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		Logger: logger.With("component", "correlation"),
		TTL:    DefaultTTL,
		Now:    time.Now,
		shards: xsync.NewMapOf[string, *guildShard](),
	}
}

func (r *Registry) shard(guildID string) *guildShard {
	s, _ := r.shards.LoadOrCompute(guildID, func() *guildShard {
		return &guildShard{}
	})
	return s
}

func (r *Registry) expired(e *entry, now time.Time) bool {
	return now.Sub(e.createdAt) > r.TTL
}

// Records an expected echo: the next events of the given types in this guild whose attributes match selector will be reported by Find.
func (r *Registry) Register(guildID string, selector map[string]string, eventTypes ...string) *Handle {
	e := &entry{
		guildID:    guildID,
		selector:   maps.Clone(selector),
		eventTypes: make(map[string]bool, len(eventTypes)),
		createdAt:  r.Now(),
	}
	for _, t := range eventTypes {
		e.eventTypes[t] = true
	}
	s := r.shard(guildID)
	s.lk.Lock()
	s.entries = append(s.entries, e)
	s.lk.Unlock()

	correlationRegistered.Inc()
	correlationActive.Inc()
	r.Logger.Debug("registered correlation", "guild", guildID, "selector", selector, "types", eventTypes)
	return &Handle{reg: r, shard: s, entry: e}
}

// Looks for an active entry registered for the event's type in the event's guild, matching every attribute in attrs. An empty attrs matches any such entry. When consume is set, the event type is removed from the matched entry, and the entry itself is removed once no types remain.
//
// Returns nil if nothing matched. Expired entries are never matched, even before a sweep removes them.
func (r *Registry) Find(evt event.Event, consume bool, attrs map[string]string) *Entry {
	s, ok := r.shards.Load(evt.Guild())
	if !ok {
		return nil
	}
	evtType := evt.Type()
	now := r.Now()

	s.lk.Lock()
	defer s.lk.Unlock()

	var found *entry
	live := s.entries[:0]
	for _, e := range s.entries {
		if r.expired(e, now) {
			correlationExpired.Inc()
			correlationActive.Dec()
			continue
		}
		live = append(live, e)
		if found == nil && e.eventTypes[evtType] && e.matches(attrs) {
			found = e
		}
	}
	clear(s.entries[len(live):])
	s.entries = live

	if found == nil {
		return nil
	}
	correlationMatched.WithLabelValues(evtType).Inc()
	if consume {
		delete(found.eventTypes, evtType)
		if len(found.eventTypes) == 0 {
			s.remove(found)
			correlationActive.Dec()
		}
	}
	return found.snapshot()
}

// Removes every expired entry. Returns the number of entries removed.
func (r *Registry) Sweep() int {
	now := r.Now()
	removed := 0
	r.shards.Range(func(guildID string, s *guildShard) bool {
		s.lk.Lock()
		live := s.entries[:0]
		for _, e := range s.entries {
			if r.expired(e, now) {
				removed++
				continue
			}
			live = append(live, e)
		}
		clear(s.entries[len(live):])
		s.entries = live
		s.lk.Unlock()
		return true
	})
	if removed > 0 {
		correlationExpired.Add(float64(removed))
		correlationActive.Sub(float64(removed))
		r.Logger.Debug("swept expired correlations", "count", removed)
	}
	return removed
}

// Number of entries held, including expired ones not yet swept.
func (r *Registry) Len() int {
	n := 0
	r.shards.Range(func(guildID string, s *guildShard) bool {
		s.lk.Lock()
		n += len(s.entries)
		s.lk.Unlock()
		return true
	})
	return n
}

// Starts the background sweep task. Calling it on a registry which is already sweeping is a no-op.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	r.sweepLk.Lock()
	defer r.sweepLk.Unlock()
	if r.sweeper != nil {
		return
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	r.sweeper = ticker.Start(ctx, interval, func(ctx context.Context) error {
		r.Sweep()
		return nil
	})
}

// Stops the sweeper and drops all entries.
func (r *Registry) Close() {
	r.sweepLk.Lock()
	if r.sweeper != nil {
		r.sweeper.Stop()
		r.sweeper = nil
	}
	r.sweepLk.Unlock()

	dropped := 0
	r.shards.Range(func(guildID string, s *guildShard) bool {
		s.lk.Lock()
		dropped += len(s.entries)
		s.entries = nil
		s.lk.Unlock()
		return true
	})
	correlationActive.Sub(float64(dropped))
}

// Allows early removal of a registered entry.
type Handle struct {
	reg   *Registry
	shard *guildShard
	entry *entry
}

// Removes the entry if it is still registered. Safe to call after the entry was consumed or swept, and more than once.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.shard.lk.Lock()
	removed := h.shard.remove(h.entry)
	h.shard.lk.Unlock()
	if removed {
		correlationActive.Dec()
	}
}
