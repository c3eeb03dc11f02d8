package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventTypes(t *testing.T) {
	assert := assert.New(t)

	evts := []Event{
		&MessageCreate{GuildID: "1"},
		&GuildMemberRemove{GuildID: "1"},
		&GuildMemberUpdate{GuildID: "1"},
		&GuildBanAdd{GuildID: "1"},
		&GuildBanRemove{GuildID: "1"},
		&GuildRoleUpdate{GuildID: "1"},
	}
	expected := []string{TypeMessageCreate, TypeGuildMemberRemove, TypeGuildMemberUpdate, TypeGuildBanAdd, TypeGuildBanRemove, TypeGuildRoleUpdate}
	for i, evt := range evts {
		assert.Equal(expected[i], evt.Type())
		assert.Equal("1", evt.Guild())
	}
}

func TestMemberHasRole(t *testing.T) {
	assert := assert.New(t)

	m := Member{UserID: "5", Roles: []Role{{ID: "10", Name: "Mods"}, {ID: "11"}}}
	assert.True(m.HasRole("10"))
	assert.True(m.HasRole("11"))
	assert.False(m.HasRole("12"))
	assert.False((&Member{}).HasRole("10"))
}
