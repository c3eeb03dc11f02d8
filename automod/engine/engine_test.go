package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modwarden/warden/automod/config"
	"github.com/modwarden/warden/automod/event"
	"github.com/modwarden/warden/automod/modlog"
	"github.com/modwarden/warden/automod/platform"
	"github.com/modwarden/warden/automod/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func punishmentPtr(p config.Punishment) *config.Punishment {
	return &p
}

// 5 messages in 3 seconds are fine; the 6th breaches.
func TestMessageRateScenario(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	rule := &config.Rule{
		MaxMessages: &config.Check{Count: 5, Interval: 10 * time.Second},
	}
	require.NoError(f.SetRule(rule))
	f.AddMember("42")
	rules := []*config.Rule{rule}

	for i := 0; i < 5; i++ {
		v, err := f.Engine.Detect(ctx, f.Message("42", "c1", "hello"), rules)
		require.NoError(err)
		assert.Nil(v)
		f.Clock.Advance(600 * time.Millisecond)
	}
	f.Clock.Advance(100 * time.Millisecond)
	v, err := f.Engine.Detect(ctx, f.Message("42", "c1", "hello"), rules)
	require.NoError(err)
	require.NotNil(v)
	assert.Equal(config.MetricMessages, v.Metric)
	assert.Equal("MAX_MESSAGES", v.Label)
	assert.Equal("Too Many Messages (6 / 10s)", v.Message)
	assert.Equal(6, v.Count)
	assert.Equal("42", v.SubjectID)
	assert.Same(rule, v.Rule)
	assert.Same(rule.MaxMessages, v.Check)

	// once the window has passed, earlier messages no longer count
	f.Clock.Advance(11 * time.Second)
	v, err = f.Engine.Detect(ctx, f.Message("42", "c1", "hello"), rules)
	require.NoError(err)
	assert.Nil(v)
}

func TestDuplicateScenario(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	require.NoError(f.SetRule(&config.Rule{
		MaxDuplicates: &config.Check{Count: 3, Interval: 60 * time.Second},
	}))
	f.AddMember("42")

	for i := 0; i < 3; i++ {
		require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "spam")))
		f.Clock.Advance(5 * time.Second)
	}
	assert.Empty(f.Log.Actions(modlog.KindSpam))

	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "spam")))
	spam := f.Log.Actions(modlog.KindSpam)
	require.Len(spam, 1)
	assert.Equal("MAX_DUPLICATES", spam[0].Details["label"])
	assert.Equal("Too Many Duplicated Messages (4 / 1)", spam[0].Details["message"])
	assert.Equal("42", spam[0].Details["user_id"])
	// default punishment is none
	assert.Empty(f.Platform.Calls("mute", "kick", "ban"))
}

func TestGlobalDuplicates(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	rule := &config.Rule{
		Punishment:    config.PunishmentKick,
		MaxDuplicates: &config.Check{Count: 2, Interval: 60 * time.Second, Meta: map[string]string{"scope": "global"}},
	}
	require.NoError(f.SetRule(rule))
	f.AddMember("42")
	f.AddMember("43")
	f.AddMember("44")

	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "join my server")))
	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("43", "c1", "join my server")))
	assert.Empty(f.Log.Actions(modlog.KindSpam))
	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("44", "c1", "join my server")))

	kicks := f.Platform.Calls("kick")
	require.Len(kicks, 1)
	// only the author of the triggering message is punished
	assert.Equal("44", kicks[0].UserID)
}

func TestEchoSuppressionScenario(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	require.NoError(f.SetRule(&config.Rule{
		Punishment:         config.PunishmentTempBan,
		PunishmentDuration: 300 * time.Second,
		MaxMessages:        &config.Check{Count: 1, Interval: 10 * time.Second},
	}))
	f.AddMember("42")

	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "one")))
	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "two")))
	bans := f.Platform.Calls("ban")
	require.Len(bans, 1)
	assert.Equal("42", bans[0].UserID)
	assert.Len(f.Log.Actions(modlog.KindMemberTempBan), 1)

	// echoes of the ban are not logged as organic
	require.NoError(f.Engine.ProcessEvent(ctx, &event.GuildMemberRemove{GuildID: TestGuildID, UserID: "42"}))
	require.NoError(f.Engine.ProcessEvent(ctx, &event.GuildBanAdd{GuildID: TestGuildID, UserID: "42"}))
	assert.Empty(f.Log.Actions(modlog.KindMemberRemove, modlog.KindBanAdd))
	assert.Equal(0, f.Engine.Correlations.Len())

	// an unrelated departure is
	require.NoError(f.Engine.ProcessEvent(ctx, &event.GuildMemberRemove{GuildID: TestGuildID, UserID: "77"}))
	assert.Len(f.Log.Actions(modlog.KindMemberRemove), 1)

	infs := f.Store.Infractions(TestGuildID, "42")
	require.Len(infs, 1)
	assert.Equal(store.InfractionTempBan, infs[0].Type)
	require.NotNil(infs[0].ExpiresAt)
	assert.Equal(f.Clock.Now().Add(300*time.Second), *infs[0].ExpiresAt)

	// expiry reverses the ban, and its echo is hidden too
	f.Clock.Advance(299 * time.Second)
	require.NoError(f.Engine.RunExpiry(ctx))
	assert.Empty(f.Platform.Calls("unban"))

	f.Clock.Advance(2 * time.Second)
	require.NoError(f.Engine.RunExpiry(ctx))
	assert.Len(f.Platform.Calls("unban"), 1)
	assert.Len(f.Log.Actions(modlog.KindTempBanExpire), 1)
	require.NoError(f.Engine.ProcessEvent(ctx, &event.GuildBanRemove{GuildID: TestGuildID, UserID: "42"}))
	assert.Empty(f.Log.Actions(modlog.KindBanRemove))

	require.NoError(f.Engine.RunExpiry(ctx))
	assert.Len(f.Platform.Calls("unban"), 1)
}

func TestPunishmentOverrideScenario(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	require.NoError(f.SetRule(&config.Rule{
		Punishment: config.PunishmentMute,
		MaxMessages: &config.Check{
			Count:      1,
			Interval:   10 * time.Second,
			Punishment: punishmentPtr(config.PunishmentKick),
		},
	}))
	f.AddMember("42")

	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "one")))
	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "two")))
	assert.Len(f.Platform.Calls("kick"), 1)
	assert.Empty(f.Platform.Calls("mute"))
	spam := f.Log.Actions(modlog.KindSpam)
	require.Len(spam, 1)
	assert.Equal("KICK", spam[0].Details["punishment"])
}

func TestViolateIdempotence(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	rule := &config.Rule{
		Name:        "role:*",
		Punishment:  config.PunishmentKick,
		MaxMessages: &config.Check{Count: 1, Interval: 10 * time.Second},
	}
	require.NoError(f.SetRule(rule))
	gc, err := f.Config.GuildConfig(ctx, TestGuildID)
	require.NoError(err)

	v := &Violation{
		Rule:      rule,
		Check:     rule.MaxMessages,
		Metric:    config.MetricMessages,
		GuildID:   TestGuildID,
		SubjectID: "42",
		Label:     "MAX_MESSAGES",
		Message:   "Too Many Messages (2 / 10s)",
	}
	require.NoError(f.Engine.Violate(ctx, gc, v))
	f.Clock.Advance(5 * time.Second)
	require.NoError(f.Engine.Violate(ctx, gc, v))
	assert.Len(f.Platform.Calls("kick"), 1)
	assert.Len(f.Log.Actions(modlog.KindSpam), 1)

	// the cool-down slides with every violation, even suppressed ones
	f.Clock.Advance(6 * time.Second)
	require.NoError(f.Engine.Violate(ctx, gc, v))
	assert.Len(f.Platform.Calls("kick"), 1)

	f.Clock.Advance(11 * time.Second)
	require.NoError(f.Engine.Violate(ctx, gc, v))
	assert.Len(f.Platform.Calls("kick"), 2)
	assert.Len(f.Log.Actions(modlog.KindSpam), 2)

	// other members have their own cool-down
	v2 := *v
	v2.SubjectID = "43"
	require.NoError(f.Engine.Violate(ctx, gc, &v2))
	assert.Len(f.Platform.Calls("kick"), 3)
}

func TestEnforcementFailure(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	require.NoError(f.SetRule(&config.Rule{
		Punishment:  config.PunishmentKick,
		MaxMessages: &config.Check{Count: 1, Interval: 10 * time.Second},
	}))
	f.AddMember("42")
	f.Platform.FailOp("kick", platform.ErrMissingPermissions)

	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "one")))
	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "two")))

	assert.Len(f.Log.Actions(modlog.KindSpam), 1)
	perm := f.Log.Actions(modlog.KindPermissionError)
	require.Len(perm, 1)
	assert.Equal("kick", perm[0].Details["op"])
	assert.Empty(f.Log.Actions(modlog.KindMemberKick))
	// the correlation for the failed kick was withdrawn
	assert.Equal(0, f.Engine.Correlations.Len())
	assert.Empty(f.Store.Infractions(TestGuildID, "42"))

	f.Platform.FailOp("kick", errors.New("gateway timeout"))
	f.AddMember("43")
	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("43", "c1", "one")))
	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("43", "c1", "two")))
	assert.Len(f.Log.Actions(modlog.KindEnforcementFailed), 1)
}

func TestMuteRequiresRole(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	require.NoError(f.Config.Set(TestGuildID, &config.GuildConfig{
		Spam: config.SpamConfig{Roles: map[string]*config.Rule{"*": {
			Punishment:  config.PunishmentMute,
			MaxMessages: &config.Check{Count: 1, Interval: 10 * time.Second},
		}}},
	}))
	f.AddMember("42")

	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "one")))
	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "two")))
	assert.Empty(f.Platform.Calls("mute"))
	failed := f.Log.Actions(modlog.KindEnforcementFailed)
	require.Len(failed, 1)
	assert.Contains(failed[0].Details["error"], "mute role")
}

func TestMuteEcho(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	require.NoError(f.SetRule(&config.Rule{
		Punishment:         config.PunishmentTempMute,
		PunishmentDuration: time.Minute,
		MaxMessages:        &config.Check{Count: 1, Interval: 10 * time.Second},
	}))
	f.AddMember("42")

	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "one")))
	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "two")))
	mutes := f.Platform.Calls("mute")
	require.Len(mutes, 1)
	assert.Equal(TestMuteRole, mutes[0].RoleID)

	// the mute role change is an echo; the other role is not
	require.NoError(f.Engine.ProcessEvent(ctx, &event.GuildMemberUpdate{
		GuildID:    TestGuildID,
		UserID:     "42",
		AddedRoles: []string{TestMuteRole, "555"},
	}))
	added := f.Log.Actions(modlog.KindRolesAdd)
	require.Len(added, 1)
	assert.Equal("555", added[0].Details["role_id"])

	f.Clock.Advance(61 * time.Second)
	require.NoError(f.Engine.RunExpiry(ctx))
	unmutes := f.Platform.Calls("unmute")
	require.Len(unmutes, 1)
	assert.Equal(TestMuteRole, unmutes[0].RoleID)
	require.NoError(f.Engine.ProcessEvent(ctx, &event.GuildMemberUpdate{
		GuildID:      TestGuildID,
		UserID:       "42",
		RemovedRoles: []string{TestMuteRole},
	}))
	assert.Empty(f.Log.Actions(modlog.KindRolesRemove))
}

func TestCleanupPartialFailure(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	rule := config.NewRule()
	rule.Punishment = config.PunishmentKick
	rule.Clean = true
	rule.MaxMessages = &config.Check{Count: 3, Interval: 10 * time.Second}
	require.NoError(f.SetRule(rule))
	f.AddMember("42")
	f.AddMember("43")
	f.Platform.FailChannel("c1", errors.New("missing access"))

	require.NoError(f.Engine.ProcessEvent(ctx, f.Message("43", "c2", "bystander")))
	for _, ch := range []string{"c1", "c2", "c1", "c2"} {
		require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", ch, "hi")))
		f.Clock.Advance(time.Second)
	}

	deletes := f.Platform.Calls("delete")
	require.Len(deletes, 2)
	assert.Equal("c1", deletes[0].ChannelID)
	assert.Equal("c2", deletes[1].ChannelID)
	assert.Len(deletes[1].MessageIDs, 2)
	cleaned := f.Log.Actions(modlog.KindMessagesCleaned)
	require.Len(cleaned, 1)
	assert.Equal("c2", cleaned[0].Details["channel_id"])
}

func TestSkippedMessages(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	require.NoError(f.SetRule(&config.Rule{
		Punishment:  config.PunishmentKick,
		MaxMessages: &config.Check{Count: 1, Interval: 10 * time.Second},
	}))
	f.AddMember("42")
	f.Platform.AddMember(&event.Member{GuildID: TestGuildID, UserID: "50", Bot: true})

	for i := 0; i < 3; i++ {
		bot := f.Message("42", "c1", "beep")
		bot.Bot = true
		require.NoError(f.Engine.ProcessEvent(ctx, bot))

		hook := f.Message("42", "c1", "hook")
		hook.WebhookID = "w1"
		require.NoError(f.Engine.ProcessEvent(ctx, hook))

		require.NoError(f.Engine.ProcessEvent(ctx, f.Message(TestSelfID, "c1", "self")))
		// author left before the event was handled
		require.NoError(f.Engine.ProcessEvent(ctx, f.Message("99", "c1", "ghost")))
		require.NoError(f.Engine.ProcessEvent(ctx, f.Message("50", "c1", "bot member")))

		// guild without configuration
		other := f.Message("42", "c1", "elsewhere")
		other.GuildID = "200"
		require.NoError(f.Engine.ProcessEvent(ctx, other))
	}
	assert.Empty(f.Log.Actions(modlog.KindSpam))
	assert.Empty(f.Platform.Calls("kick"))

	// messages are still saved for cleanup and duplicate detection
	msgs, err := f.Store.RecentMessages(ctx, store.MessageQuery{GuildID: TestGuildID, AuthorID: "42", Since: f.Clock.Now().Add(-time.Minute)})
	require.NoError(err)
	assert.Len(msgs, 6)
}

func TestLevelRules(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	require.NoError(f.Config.Set(TestGuildID, &config.GuildConfig{
		Spam: config.SpamConfig{Levels: map[int]*config.Rule{
			10: {
				Punishment:  config.PunishmentKick,
				MaxMessages: &config.Check{Count: 1, Interval: 10 * time.Second},
			},
		}},
		Levels: map[string]int{"mod": 50},
	}))
	f.AddMember("42")
	f.AddMember("43", event.Role{ID: "mod", Name: "Moderators"})

	for i := 0; i < 3; i++ {
		require.NoError(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "hi")))
		require.NoError(f.Engine.ProcessEvent(ctx, f.Message("43", "c1", "hi")))
	}
	kicks := f.Platform.Calls("kick")
	require.Len(kicks, 1)
	assert.Equal("42", kicks[0].UserID)
}

type failingCounters struct{}

func (failingCounters) IncrementWindow(ctx context.Context, key string, amount int, window time.Duration) (int, error) {
	return 0, errors.New("redis: connection refused")
}

func (failingCounters) GetSet(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error) {
	return 0, errors.New("redis: connection refused")
}

func TestStoreErrorDropsEvent(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	require.NoError(f.SetRule(&config.Rule{
		MaxMessages: &config.Check{Count: 1, Interval: 10 * time.Second},
	}))
	f.AddMember("42")
	f.Engine.Counters = failingCounters{}

	assert.Error(f.Engine.ProcessEvent(ctx, f.Message("42", "c1", "hi")))
	assert.Empty(f.Log.Actions())

	// the guild lock was released on the error path
	require.NoError(f.Engine.ProcessEvent(ctx, &event.GuildMemberRemove{GuildID: TestGuildID, UserID: "42"}))
}

// Mock platform which measures how many member resolutions overlap, and can be made to panic.
type trackingPlatform struct {
	*platform.MockPlatform
	inflight    atomic.Int32
	maxInflight atomic.Int32
	rolePurges  atomic.Int32
	panicUser   string
}

func (p *trackingPlatform) ResolveMember(ctx context.Context, guildID, userID string) (*event.Member, error) {
	n := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		m := p.maxInflight.Load()
		if n <= m || p.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if userID == p.panicUser {
		panic("member lookup exploded")
	}
	time.Sleep(5 * time.Millisecond)
	return p.MockPlatform.ResolveMember(ctx, guildID, userID)
}

func (p *trackingPlatform) PurgeRoles(ctx context.Context, guildID string) error {
	p.rolePurges.Add(1)
	return nil
}

func processWithin(t *testing.T, eng *Engine, evt event.Event) error {
	done := make(chan error, 1)
	go func() {
		done <- eng.ProcessEvent(context.Background(), evt)
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("event processing did not finish; guild lock still held?")
		return nil
	}
}

func TestGuildEventsSerialized(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	f := EngineTestFixture()
	require.NoError(f.SetRule(&config.Rule{
		MaxMessages: &config.Check{Count: 1000, Interval: 10 * time.Second},
	}))
	tp := &trackingPlatform{MockPlatform: f.Platform, panicUser: "666"}
	f.Engine.Platform = tp
	for _, u := range []string{"41", "42", "43", "44"} {
		f.AddMember(u)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		author := []string{"41", "42", "43", "44"}[i%4]
		msg := f.Message(author, "c1", "hello")
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(f.Engine.ProcessEvent(context.Background(), msg))
		}()
	}
	wg.Wait()
	assert.Equal(int32(1), tp.maxInflight.Load())
	assert.Empty(f.Log.Actions(modlog.KindSpam))

	// a recovered panic releases the guild lock
	err := processWithin(t, f.Engine, f.Message("666", "c1", "hello"))
	assert.ErrorContains(err, "panic")
	assert.NoError(processWithin(t, f.Engine, f.Message("41", "c1", "hello")))

	// so does a returned error
	f.Engine.Counters = failingCounters{}
	assert.Error(processWithin(t, f.Engine, f.Message("41", "c1", "hello")))
	assert.NoError(processWithin(t, f.Engine, &event.GuildBanAdd{GuildID: TestGuildID, UserID: "41"}))
}

func TestRoleUpdatePurgesRoleNames(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	f := EngineTestFixture()
	tp := &trackingPlatform{MockPlatform: f.Platform}
	f.Engine.Platform = tp

	assert.NoError(f.Engine.ProcessEvent(ctx, &event.GuildRoleUpdate{GuildID: TestGuildID, RoleID: "7"}))
	assert.NoError(f.Engine.ProcessEvent(ctx, &event.GuildRoleUpdate{GuildID: TestGuildID, RoleID: "7", Deleted: true}))
	assert.Equal(int32(2), tp.rolePurges.Load())
	assert.Empty(f.Log.Actions())
}
