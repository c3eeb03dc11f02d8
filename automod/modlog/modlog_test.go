package modlog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/modwarden/warden/automod/config"
	"github.com/modwarden/warden/automod/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert := assert.New(t)

	msg := Format(KindSpam, map[string]string{
		"user_id":    "42",
		"rule":       "role:*",
		"label":      "MAX_MESSAGES",
		"message":    "Too Many Messages (6 / 10s)",
		"punishment": "MUTE",
	})
	assert.Equal("<@42> violated anti-spam rule `role:*`: MAX_MESSAGES (Too Many Messages (6 / 10s)), punishment MUTE", msg)

	assert.Equal("UNKNOWN a=1 b=2", Format(Kind("UNKNOWN"), map[string]string{"b": "2", "a": "1"}))
	assert.True(KindPermissionError.Failure())
	assert.False(KindSpam.Failure())
}

func TestChannelLog(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	cfg := config.NewMemProvider()
	require.NoError(cfg.Set("g1", &config.GuildConfig{ModLog: config.ModLogConfig{Channel: "c1", Timestamps: true}}))
	require.NoError(cfg.Set("g2", &config.GuildConfig{}))

	p := platform.NewMockPlatform()
	cl := NewChannelLog(cfg, p)
	cl.Now = func() time.Time { return time.Date(2024, 1, 1, 13, 4, 5, 0, time.UTC) }

	require.NoError(cl.LogAction(ctx, KindMemberKick, "g1", map[string]string{"user_id": "7", "reason": "spam"}))
	// no channel configured, or no config at all
	require.NoError(cl.LogAction(ctx, KindMemberKick, "g2", nil))
	require.NoError(cl.LogAction(ctx, KindMemberKick, "g3", nil))

	sent := p.Calls("send")
	require.Len(sent, 1)
	assert.Equal("c1", sent[0].ChannelID)
	assert.Equal("`[13:04:05]` :boot: <@7> was kicked (spam)", sent[0].Content)

	long := strings.Repeat("x", 3000)
	out := cl.render(KindEnforcementFailed, map[string]string{"error": long}, false)
	assert.Equal(maxMessageLength, len([]rune(out)))
	assert.True(strings.HasSuffix(out, "..."))
}

type failingLog struct{ err error }

func (f failingLog) LogAction(ctx context.Context, kind Kind, guildID string, details map[string]string) error {
	return f.err
}

type countingLog struct{ n atomic.Int64 }

func (c *countingLog) LogAction(ctx context.Context, kind Kind, guildID string, details map[string]string) error {
	c.n.Add(1)
	return nil
}

func TestMultiLog(t *testing.T) {
	assert := assert.New(t)

	boom := errors.New("boom")
	counter := &countingLog{}
	ml := MultiLog{failingLog{boom}, counter, NewSlogLog(nil)}
	err := ml.LogAction(context.Background(), KindSpam, "g", nil)
	assert.ErrorIs(err, boom)
	assert.Equal(int64(1), counter.n.Load())
}

func TestSlackLog(t *testing.T) {
	assert := assert.New(t)

	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	sl := NewSlackLog(srv.URL, nil, KindSpam)
	ctx := context.Background()
	assert.NoError(sl.LogAction(ctx, KindSpam, "g", map[string]string{"user_id": "1"}))
	// filtered out
	assert.NoError(sl.LogAction(ctx, KindMemberRemove, "g", map[string]string{"user_id": "1"}))
	// failures always pass the filter
	assert.NoError(sl.LogAction(ctx, KindPermissionError, "g", map[string]string{"user_id": "1", "op": "kick"}))

	assert.Len(bodies, 2)
	assert.Contains(bodies[0], "SPAM")
	assert.Contains(bodies[1], "missing permissions")
}
