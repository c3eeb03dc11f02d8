package engine

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modwarden/warden/automod/config"
	"github.com/modwarden/warden/automod/correlation"
	"github.com/modwarden/warden/automod/countstore"
	"github.com/modwarden/warden/automod/event"
	"github.com/modwarden/warden/automod/modlog"
	"github.com/modwarden/warden/automod/platform"
	"github.com/modwarden/warden/automod/store"
)

// Manually advanced clock, shared by every component of a test engine.
type TestClock struct {
	lk  sync.Mutex
	now time.Time
}

func (c *TestClock) Now() time.Time {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.now
}

func (c *TestClock) Advance(d time.Duration) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.now = c.now.Add(d)
}

type LoggedAction struct {
	Kind    modlog.Kind
	GuildID string
	Details map[string]string
}

// ActionLog which keeps every record in memory.
type RecordingLog struct {
	lk      sync.Mutex
	actions []LoggedAction
}

func (l *RecordingLog) LogAction(ctx context.Context, kind modlog.Kind, guildID string, details map[string]string) error {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.actions = append(l.actions, LoggedAction{Kind: kind, GuildID: guildID, Details: details})
	return nil
}

// Records of the given kinds, or all of them.
func (l *RecordingLog) Actions(kinds ...modlog.Kind) []LoggedAction {
	l.lk.Lock()
	defer l.lk.Unlock()
	var out []LoggedAction
	for _, a := range l.actions {
		if len(kinds) == 0 {
			out = append(out, a)
			continue
		}
		for _, k := range kinds {
			if a.Kind == k {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

type TestFixture struct {
	Engine   *Engine
	Clock    *TestClock
	Config   *config.MemProvider
	Platform *platform.MockPlatform
	Store    *store.MemStore
	Log      *RecordingLog
}

const (
	TestGuildID  = "100"
	TestSelfID   = "1"
	TestMuteRole = "900"
)

// Engine wired to in-memory collaborators, with a virtual clock. The guild has no configuration until the test sets one.
func EngineTestFixture() *TestFixture {
	clock := &TestClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	counters := countstore.NewMemCountStore()
	counters.Now = clock.Now
	reg := correlation.NewRegistry(slog.Default())
	reg.Now = clock.Now
	st := store.NewMemStore()
	cfg := config.NewMemProvider()
	p := platform.NewMockPlatform()
	rl := &RecordingLog{}

	eng := &Engine{
		Logger:       slog.Default(),
		Config:       cfg,
		Counters:     counters,
		Correlations: reg,
		Store:        st,
		Platform:     p,
		ActionLog:    rl,
		SelfID:       TestSelfID,
		Now:          clock.Now,
	}
	return &TestFixture{
		Engine:   eng,
		Clock:    clock,
		Config:   cfg,
		Platform: p,
		Store:    st,
		Log:      rl,
	}
}

// Installs a guild config with a single wildcard rule.
func (f *TestFixture) SetRule(rule *config.Rule) error {
	return f.Config.Set(TestGuildID, &config.GuildConfig{
		Spam: config.SpamConfig{
			Roles: map[string]*config.Rule{"*": rule},
		},
		Infractions: config.InfractionsConfig{MuteRole: TestMuteRole},
	})
}

func (f *TestFixture) AddMember(userID string, roles ...event.Role) {
	f.Platform.AddMember(&event.Member{GuildID: TestGuildID, UserID: userID, Roles: roles})
}

var testMessageSeq atomic.Int64

// Builds a message in the test guild, timestamped at the current virtual time.
func (f *TestFixture) Message(authorID, channelID, content string) *event.MessageCreate {
	return &event.MessageCreate{
		MessageID: "m" + strconv.FormatInt(testMessageSeq.Add(1), 10),
		GuildID:   TestGuildID,
		ChannelID: channelID,
		AuthorID:  authorID,
		Content:   content,
		Timestamp: f.Clock.Now(),
	}
}
