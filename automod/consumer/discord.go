// Translates Discord gateway events into moderation events, and feeds them to a scheduler.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modwarden/warden/automod/event"

	"github.com/bwmarrin/discordgo"
)

// Gateway intents needed by the consumer
const Intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildBans |
	discordgo.IntentsGuildMessages |
	discordgo.IntentMessageContent

type Scheduler interface {
	AddWork(ctx context.Context, evt event.Event) error
}

type DiscordConsumer struct {
	Logger    *slog.Logger
	Session   *discordgo.Session
	Scheduler Scheduler
}

// Opens the gateway connection and forwards events until the context is cancelled.
func (dc *DiscordConsumer) Run(ctx context.Context) error {
	dc.Session.Identify.Intents = Intents
	// member role diffs rely on the state cache
	dc.Session.StateEnabled = true
	dc.Session.State.TrackMembers = true

	removers := []func(){
		dc.Session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
			dc.Logger.Info("gateway connected", "user", r.User.ID, "guilds", len(r.Guilds))
		}),
		dc.Session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
			if evt := MessageCreateEvent(m); evt != nil {
				dc.schedule(ctx, evt)
			}
		}),
		dc.Session.AddHandler(func(s *discordgo.Session, m *discordgo.GuildMemberRemove) {
			if m.Member == nil || m.User == nil {
				return
			}
			dc.schedule(ctx, &event.GuildMemberRemove{GuildID: m.GuildID, UserID: m.User.ID})
		}),
		dc.Session.AddHandler(func(s *discordgo.Session, m *discordgo.GuildMemberUpdate) {
			if evt := MemberUpdateEvent(m); evt != nil {
				dc.schedule(ctx, evt)
			}
		}),
		dc.Session.AddHandler(func(s *discordgo.Session, b *discordgo.GuildBanAdd) {
			if b.User == nil {
				return
			}
			dc.schedule(ctx, &event.GuildBanAdd{GuildID: b.GuildID, UserID: b.User.ID})
		}),
		dc.Session.AddHandler(func(s *discordgo.Session, r *discordgo.GuildRoleUpdate) {
			if evt := RoleUpdateEvent(r); evt != nil {
				dc.schedule(ctx, evt)
			}
		}),
		dc.Session.AddHandler(func(s *discordgo.Session, r *discordgo.GuildRoleDelete) {
			dc.schedule(ctx, &event.GuildRoleUpdate{GuildID: r.GuildID, RoleID: r.RoleID, Deleted: true})
		}),
		dc.Session.AddHandler(func(s *discordgo.Session, b *discordgo.GuildBanRemove) {
			if b.User == nil {
				return
			}
			dc.schedule(ctx, &event.GuildBanRemove{GuildID: b.GuildID, UserID: b.User.ID})
		}),
	}
	defer func() {
		for _, rm := range removers {
			rm()
		}
	}()

	if err := dc.Session.Open(); err != nil {
		return fmt.Errorf("opening gateway: %w", err)
	}
	<-ctx.Done()
	dc.Logger.Info("closing gateway connection")
	if err := dc.Session.Close(); err != nil {
		return fmt.Errorf("closing gateway: %w", err)
	}
	return nil
}

func (dc *DiscordConsumer) schedule(ctx context.Context, evt event.Event) {
	if err := dc.Scheduler.AddWork(ctx, evt); err != nil {
		dc.Logger.Error("failed to schedule event", "type", evt.Type(), "guild", evt.Guild(), "err", err)
	}
}

// Converts a gateway message. Returns nil for messages outside of guilds.
func MessageCreateEvent(m *discordgo.MessageCreate) *event.MessageCreate {
	if m.Message == nil || m.GuildID == "" || m.Author == nil {
		return nil
	}
	evt := &event.MessageCreate{
		MessageID: m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Bot:       m.Author.Bot,
		WebhookID: m.WebhookID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	for _, a := range m.Attachments {
		evt.Attachments = append(evt.Attachments, event.Attachment{ID: a.ID, Filename: a.Filename, URL: a.URL})
	}
	for _, u := range m.Mentions {
		evt.Mentions = append(evt.Mentions, u.ID)
	}
	return evt
}

// Converts a member update into a role diff against the cached member. Returns nil if no roles changed. If the previous state is unknown, the event carries no diff; it still tells the engine to drop its cached copy of the member.
func MemberUpdateEvent(m *discordgo.GuildMemberUpdate) *event.GuildMemberUpdate {
	if m.Member == nil || m.User == nil {
		return nil
	}
	if m.BeforeUpdate == nil {
		return &event.GuildMemberUpdate{GuildID: m.GuildID, UserID: m.User.ID}
	}
	before := make(map[string]bool, len(m.BeforeUpdate.Roles))
	for _, r := range m.BeforeUpdate.Roles {
		before[r] = true
	}
	after := make(map[string]bool, len(m.Roles))
	evt := &event.GuildMemberUpdate{GuildID: m.GuildID, UserID: m.User.ID}
	for _, r := range m.Roles {
		after[r] = true
		if !before[r] {
			evt.AddedRoles = append(evt.AddedRoles, r)
		}
	}
	for _, r := range m.BeforeUpdate.Roles {
		if !after[r] {
			evt.RemovedRoles = append(evt.RemovedRoles, r)
		}
	}
	if len(evt.AddedRoles) == 0 && len(evt.RemovedRoles) == 0 {
		return nil
	}
	return evt
}

func RoleUpdateEvent(r *discordgo.GuildRoleUpdate) *event.GuildRoleUpdate {
	if r.GuildRole == nil || r.Role == nil {
		return nil
	}
	return &event.GuildRoleUpdate{GuildID: r.GuildID, RoleID: r.Role.ID}
}
