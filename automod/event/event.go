// Typed gateway events consumed by the moderation engine.
//
// Type names mirror the platform's gateway event names; they are the keys
// used by the correlation registry when matching expected echoes.
package event

import (
	"time"
)

const (
	TypeMessageCreate     = "MessageCreate"
	TypeGuildMemberRemove = "GuildMemberRemove"
	TypeGuildMemberUpdate = "GuildMemberUpdate"
	TypeGuildBanAdd       = "GuildBanAdd"
	TypeGuildBanRemove    = "GuildBanRemove"
	TypeGuildRoleUpdate   = "GuildRoleUpdate"
)

// Event is any guild-scoped gateway event.
type Event interface {
	// Type returns the gateway event name, eg "GuildMemberRemove".
	Type() string
	Guild() string
}

type Attachment struct {
	ID       string
	Filename string
	URL      string
}

type MessageCreate struct {
	MessageID string
	GuildID   string
	ChannelID string
	AuthorID  string
	// Bot is true for messages authored by bot accounts.
	Bot bool
	// WebhookID is non-empty for messages posted through a webhook.
	WebhookID   string
	Content     string
	Attachments []Attachment
	// user IDs mentioned in the message
	Mentions  []string
	Timestamp time.Time
}

func (e *MessageCreate) Type() string  { return TypeMessageCreate }
func (e *MessageCreate) Guild() string { return e.GuildID }

type GuildMemberRemove struct {
	GuildID string
	UserID  string
}

func (e *GuildMemberRemove) Type() string  { return TypeGuildMemberRemove }
func (e *GuildMemberRemove) Guild() string { return e.GuildID }

// GuildMemberUpdate carries the role diff of a member update, computed by the consumer from cached state.
type GuildMemberUpdate struct {
	GuildID      string
	UserID       string
	AddedRoles   []string
	RemovedRoles []string
}

func (e *GuildMemberUpdate) Type() string  { return TypeGuildMemberUpdate }
func (e *GuildMemberUpdate) Guild() string { return e.GuildID }

type GuildBanAdd struct {
	GuildID string
	UserID  string
}

func (e *GuildBanAdd) Type() string  { return TypeGuildBanAdd }
func (e *GuildBanAdd) Guild() string { return e.GuildID }

type GuildBanRemove struct {
	GuildID string
	UserID  string
}

func (e *GuildBanRemove) Type() string  { return TypeGuildBanRemove }
func (e *GuildBanRemove) Guild() string { return e.GuildID }

// A guild role was renamed or deleted.
type GuildRoleUpdate struct {
	GuildID string
	RoleID  string
	Deleted bool
}

func (e *GuildRoleUpdate) Type() string  { return TypeGuildRoleUpdate }
func (e *GuildRoleUpdate) Guild() string { return e.GuildID }
