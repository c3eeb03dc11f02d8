// Interfaces to the chat platform: member lookups, enforcement actions, and message delivery.
package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/modwarden/warden/automod/event"

	"github.com/bwmarrin/discordgo"
)

// Looks up guild members. Returns nil (and no error) if the user is not a member of the guild.
type MemberResolver interface {
	ResolveMember(ctx context.Context, guildID, userID string) (*event.Member, error)
}

// Idempotent moderation side effects. Mutes are implemented with a role; temporary punishments are the same calls, reversed later by the caller.
type Enforcer interface {
	Mute(ctx context.Context, guildID, userID, roleID, reason string) error
	Unmute(ctx context.Context, guildID, userID, roleID, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	Ban(ctx context.Context, guildID, userID, reason string) error
	Unban(ctx context.Context, guildID, userID, reason string) error
	DeleteMessages(ctx context.Context, channelID string, messageIDs []string) error
}

type MessageSender interface {
	SendMessage(ctx context.Context, channelID, content string) error
}

type Platform interface {
	MemberResolver
	Enforcer
	MessageSender
}

// Returned by platform implementations when the bot lacks a permission; tests and non-Discord backends wrap this directly.
var ErrMissingPermissions = errors.New("missing permissions")

// Failure of an enforcement action against one member.
type EnforcementError struct {
	Op      string
	GuildID string
	UserID  string
	Err     error
}

func (e *EnforcementError) Error() string {
	return fmt.Sprintf("%s %s in guild %s: %v", e.Op, e.UserID, e.GuildID, e.Err)
}

func (e *EnforcementError) Unwrap() error {
	return e.Err
}

// Whether the error was caused by the bot lacking a permission in the guild (Discord error code 50013).
func IsPermissionError(err error) bool {
	if errors.Is(err, ErrMissingPermissions) {
		return true
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code == discordgo.ErrCodeMissingPermissions
	}
	return false
}
