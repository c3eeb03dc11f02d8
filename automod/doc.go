// Anti-spam moderation engine for Discord guilds.
//
// This package tree (`github.com/modwarden/warden/automod`) watches guild chat, counts per-member (or guild-wide) activity in rolling windows, and punishes members who exceed the limits configured for their roles and levels. Punishments are mute (a configured role), kick, ban, and temporary variants which are reversed when they expire. Every enforcement action is logged to the guild's mod-log channel.
//
// The platform echoes the engine's own enforcement actions back as gateway events. These are matched against a short-lived correlation registry and suppressed, so that mod-log readers only see one record per action.
//
// Subpackages: `config` (per-guild rules), `bucket` and `countstore` (windowed counters), `store` (message history and infractions), `correlation` (echo suppression), `platform` (Discord REST), `modlog` (action log sinks), `engine` (the event processor), `scheduler` and `consumer` (gateway fan-in). See `cmd/warden` for the daemon built on these.
package automod
