package modlog

import (
	"context"
	"fmt"
	"time"

	"github.com/modwarden/warden/automod/config"
	"github.com/modwarden/warden/automod/platform"
)

// platform message length limit
const maxMessageLength = 2000

// Posts records to each guild's configured mod-log channel.
type ChannelLog struct {
	Config   config.Provider
	Sender   platform.MessageSender
	Location *time.Location
	Now      func() time.Time
}

func NewChannelLog(cfg config.Provider, sender platform.MessageSender) *ChannelLog {
	return &ChannelLog{
		Config:   cfg,
		Sender:   sender,
		Location: time.UTC,
		Now:      time.Now,
	}
}

func (l *ChannelLog) LogAction(ctx context.Context, kind Kind, guildID string, details map[string]string) error {
	gc, err := l.Config.GuildConfig(ctx, guildID)
	if err != nil {
		return err
	}
	if gc == nil || gc.ModLog.Channel == "" {
		return nil
	}
	msg := l.render(kind, details, gc.ModLog.Timestamps)
	if err := l.Sender.SendMessage(ctx, gc.ModLog.Channel, msg); err != nil {
		return fmt.Errorf("posting %s to mod-log channel %s: %w", kind, gc.ModLog.Channel, err)
	}
	return nil
}

func (l *ChannelLog) render(kind Kind, details map[string]string, timestamps bool) string {
	msg := fmt.Sprintf(":%s: %s", Emoji(kind), Format(kind, details))
	if timestamps {
		msg = fmt.Sprintf("`[%s]` ", l.Now().In(l.Location).Format("15:04:05")) + msg
	}
	return truncate(msg, maxMessageLength)
}

// truncates to at most n runes, marking the cut with an ellipsis
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
