// Moderation action log: human-readable records of what the engine did and observed, delivered to one or more sinks.
package modlog

import (
	"context"
	"errors"
	"sort"
	"strings"
)

type Kind string

const (
	KindSpam              Kind = "SPAM"
	KindPermissionError   Kind = "PERMISSION_ERROR"
	KindEnforcementFailed Kind = "ENFORCEMENT_FAILED"
	KindMemberMuted       Kind = "MEMBER_MUTED"
	KindMemberTempMuted   Kind = "MEMBER_TEMP_MUTED"
	KindMemberUnmuted     Kind = "MEMBER_UNMUTED"
	KindMemberKick        Kind = "MEMBER_KICK"
	KindMemberBan         Kind = "MEMBER_BAN"
	KindMemberTempBan     Kind = "MEMBER_TEMPBAN"
	KindTempBanExpire     Kind = "MEMBER_TEMPBAN_EXPIRE"
	KindMessagesCleaned   Kind = "MESSAGES_CLEANED"
	KindMemberRemove      Kind = "GUILD_MEMBER_REMOVE"
	KindBanAdd            Kind = "GUILD_BAN_ADD"
	KindBanRemove         Kind = "GUILD_BAN_REMOVE"
	KindRolesAdd          Kind = "GUILD_MEMBER_ROLES_ADD"
	KindRolesRemove       Kind = "GUILD_MEMBER_ROLES_RMV"
)

type format struct {
	emoji    string
	template string
}

var formats = map[Kind]format{
	KindSpam:              {"no_entry_sign", "<@{user_id}> violated anti-spam rule `{rule}`: {label} ({message}), punishment {punishment}"},
	KindPermissionError:   {"warning", "could not {op} <@{user_id}>: missing permissions"},
	KindEnforcementFailed: {"warning", "could not {op} <@{user_id}>: {error}"},
	KindMemberMuted:       {"mute", "<@{user_id}> was muted ({reason})"},
	KindMemberTempMuted:   {"mute", "<@{user_id}> was temporarily muted for {duration} ({reason})"},
	KindMemberUnmuted:     {"speaker", "<@{user_id}> was unmuted ({reason})"},
	KindMemberKick:        {"boot", "<@{user_id}> was kicked ({reason})"},
	KindMemberBan:         {"hammer", "<@{user_id}> was banned ({reason})"},
	KindMemberTempBan:     {"hammer", "<@{user_id}> was temporarily banned for {duration} ({reason})"},
	KindTempBanExpire:     {"wave", "temporary ban of <@{user_id}> expired"},
	KindMessagesCleaned:   {"wastebasket", "deleted {count} messages by <@{user_id}> in <#{channel_id}>"},
	KindMemberRemove:      {"outbox_tray", "<@{user_id}> left the server"},
	KindBanAdd:            {"no_entry", "<@{user_id}> was banned"},
	KindBanRemove:         {"white_check_mark", "<@{user_id}> was unbanned"},
	KindRolesAdd:          {"key", "<@{user_id}> was given role <@&{role_id}>"},
	KindRolesRemove:       {"key", "<@{user_id}> lost role <@&{role_id}>"},
}

// Whether the kind reports a failure, rather than an action or observation.
func (k Kind) Failure() bool {
	return k == KindPermissionError || k == KindEnforcementFailed
}

// Destination for moderation log records.
type ActionLog interface {
	LogAction(ctx context.Context, kind Kind, guildID string, details map[string]string) error
}

// Renders the human-readable body of a log record, without emoji or timestamp.
func Format(kind Kind, details map[string]string) string {
	f, ok := formats[kind]
	if !ok {
		return string(kind) + " " + formatDetails(details)
	}
	pairs := make([]string, 0, len(details)*2)
	for k, v := range details {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(f.template)
}

// Emoji short name for a kind, eg "hammer"
func Emoji(kind Kind) string {
	if f, ok := formats[kind]; ok {
		return f.emoji
	}
	return "information_source"
}

func formatDetails(details map[string]string) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + details[k]
	}
	return strings.Join(parts, " ")
}

// Fans each record out to every sink. A failing sink does not prevent delivery to the others.
type MultiLog []ActionLog

func (m MultiLog) LogAction(ctx context.Context, kind Kind, guildID string, details map[string]string) error {
	var errs []error
	for _, sink := range m {
		if err := sink.LogAction(ctx, kind, guildID, details); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
