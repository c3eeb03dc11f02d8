// Persistence of recent guild messages and infraction records.
//
// Messages back duplicate detection and post-punishment cleanup. Infractions record every punishment the engine dispatches; temporary ones carry an expiry which a background task reverses.
package store

import (
	"context"
	"time"
)

type Message struct {
	ID        string    `gorm:"primaryKey"`
	GuildID   string    `gorm:"index:idx_message_guild_author_ts,priority:1;index:idx_message_guild_ts,priority:1"`
	AuthorID  string    `gorm:"index:idx_message_guild_author_ts,priority:2"`
	ChannelID string
	Content   string
	Timestamp time.Time `gorm:"index:idx_message_guild_author_ts,priority:3;index:idx_message_guild_ts,priority:2"`
}

const (
	InfractionMute     = "mute"
	InfractionTempMute = "tempmute"
	InfractionKick     = "kick"
	InfractionBan      = "ban"
	InfractionTempBan  = "tempban"
)

type Infraction struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	GuildID   string `gorm:"index"`
	UserID    string `gorm:"index"`
	// user ID of the moderator, or the bot itself for automatic punishments
	ActorID string
	Type    string
	Reason  string
	// role applied by mutes, removed again on expiry
	RoleID    string
	ExpiresAt *time.Time `gorm:"index"`
	Active    bool       `gorm:"index"`
}

// Selects a subject's (or, with an empty AuthorID, a whole guild's) recent messages, newest first.
type MessageQuery struct {
	GuildID  string
	AuthorID string
	Since    time.Time
	Limit    int
}

type Store interface {
	SaveMessage(ctx context.Context, msg *Message) error
	RecentMessages(ctx context.Context, q MessageQuery) ([]Message, error)

	CreateInfraction(ctx context.Context, inf *Infraction) error
	// Active infractions whose expiry is at or before now
	DueInfractions(ctx context.Context, now time.Time) ([]Infraction, error)
	DeactivateInfraction(ctx context.Context, id uint) error
}
