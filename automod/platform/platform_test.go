package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/modwarden/warden/automod/cachestore"
	"github.com/modwarden/warden/automod/event"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPermissionError(t *testing.T) {
	assert := assert.New(t)

	restErr := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusForbidden},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingPermissions, Message: "Missing Permissions"},
	}
	wrapped := &EnforcementError{Op: "kick", GuildID: "g", UserID: "u", Err: restErr}
	assert.True(IsPermissionError(wrapped))
	assert.True(IsPermissionError(fmt.Errorf("outer: %w", wrapped)))
	assert.True(IsPermissionError(&EnforcementError{Op: "ban", Err: ErrMissingPermissions}))

	other := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMember},
	}
	assert.False(IsPermissionError(other))
	assert.True(notFound(&EnforcementError{Op: "unmute", Err: other}))
	assert.False(IsPermissionError(errors.New("connection reset")))
	assert.False(IsPermissionError(nil))
}

func TestChunkIDs(t *testing.T) {
	assert := assert.New(t)

	ids := make([]string, 250)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", i)
	}
	chunks := chunkIDs(ids, 100)
	assert.Len(chunks, 3)
	assert.Len(chunks[0], 100)
	assert.Len(chunks[2], 50)
	assert.Equal("249", chunks[2][49])
	assert.Empty(chunkIDs(nil, 100))
}

func TestMockPlatform(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	p := NewMockPlatform()
	p.AddMember(&event.Member{GuildID: "g", UserID: "u"})
	m, err := p.ResolveMember(ctx, "g", "u")
	assert.NoError(err)
	assert.NotNil(m)
	m, err = p.ResolveMember(ctx, "g", "missing")
	assert.NoError(err)
	assert.Nil(m)

	p.FailOp("kick", ErrMissingPermissions)
	err = p.Kick(ctx, "g", "u", "spam")
	assert.True(IsPermissionError(err))
	var enfErr *EnforcementError
	assert.ErrorAs(err, &enfErr)
	assert.Equal("kick", enfErr.Op)

	p.FailChannel("c2", errors.New("boom"))
	assert.NoError(p.DeleteMessages(ctx, "c1", []string{"1"}))
	assert.Error(p.DeleteMessages(ctx, "c2", []string{"2"}))
	assert.Len(p.Calls("delete"), 2)
	assert.Len(p.Calls(), 3)
}

func testDiscordState(t *testing.T) *discordgo.State {
	state := discordgo.NewState()
	require.NoError(t, state.GuildAdd(&discordgo.Guild{
		ID: "g1",
		Roles: []*discordgo.Role{
			{ID: "r1", Name: "newbie"},
			{ID: "r2", Name: "regular"},
		},
	}))
	return state
}

func TestDiscordResolveMemberFollowsState(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	state := testDiscordState(t)
	require.NoError(state.MemberAdd(&discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: "u1"}, Roles: []string{"r1"}}))
	d := NewDiscord(&discordgo.Session{State: state}, cachestore.NewMemCacheStore(100, time.Hour), nil)

	m, err := d.ResolveMember(ctx, "g1", "u1")
	require.NoError(err)
	require.NotNil(m)
	assert.Equal([]event.Role{{ID: "r1", Name: "newbie"}}, m.Roles)

	// role change delivered by the gateway
	require.NoError(state.MemberAdd(&discordgo.Member{GuildID: "g1", User: &discordgo.User{ID: "u1"}, Roles: []string{"r2"}}))
	m, err = d.ResolveMember(ctx, "g1", "u1")
	require.NoError(err)
	assert.Equal([]event.Role{{ID: "r2", Name: "regular"}}, m.Roles)

	// role rename
	require.NoError(state.RoleAdd("g1", &discordgo.Role{ID: "r2", Name: "veteran"}))
	m, err = d.ResolveMember(ctx, "g1", "u1")
	require.NoError(err)
	assert.Equal([]event.Role{{ID: "r2", Name: "veteran"}}, m.Roles)
}

func TestDiscordResolveMemberCacheFallback(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	cache := cachestore.NewMemCacheStore(100, time.Hour)
	cached := &event.Member{GuildID: "g1", UserID: "u2", Roles: []event.Role{{ID: "r1", Name: "newbie"}}}
	require.NoError(cachestore.SetJSON(ctx, cache, memberCacheName, memberKey("g1", "u2"), cached))
	d := NewDiscord(&discordgo.Session{State: testDiscordState(t)}, cache, nil)

	// not in the gateway state: served from the cache instead of REST
	m, err := d.ResolveMember(ctx, "g1", "u2")
	require.NoError(err)
	assert.Equal(cached, m)

	require.NoError(d.PurgeMember(ctx, "g1", "u2"))
	_, ok, err := cachestore.GetJSON[event.Member](ctx, cache, memberCacheName, memberKey("g1", "u2"))
	require.NoError(err)
	assert.False(ok)

	require.NoError(cachestore.SetJSON(ctx, cache, rolesCacheName, "g1", map[string]string{"r1": "old"}))
	require.NoError(d.PurgeRoles(ctx, "g1"))
	_, ok, err = cachestore.GetJSON[map[string]string](ctx, cache, rolesCacheName, "g1")
	require.NoError(err)
	assert.False(ok)
}
