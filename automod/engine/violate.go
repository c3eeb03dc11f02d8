package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/modwarden/warden/automod/config"
	"github.com/modwarden/warden/automod/event"
	"github.com/modwarden/warden/automod/modlog"
	"github.com/modwarden/warden/automod/platform"
	"github.com/modwarden/warden/automod/store"
)

var ErrNoMuteRole = errors.New("no mute role configured")

func cooldownKey(guildID, subjectID string) string {
	return fmt.Sprintf("lv:%s:%s", guildID, subjectID)
}

// Handles a violation: suppresses repeats within the cool-down window, logs it, dispatches the punishment, and cleans up the member's recent messages if the rule asks for it.
//
// Only cool-down store failures are returned. Enforcement failures are logged to the action log and otherwise swallowed.
func (eng *Engine) Violate(ctx context.Context, gc *config.GuildConfig, v *Violation) error {
	logger := eng.Logger.With("guild", v.GuildID, "subject", v.SubjectID, "rule", v.Rule.Name, "label", v.Label)

	window := eng.CooldownWindow
	if window <= 0 {
		window = DefaultCooldownWindow
	}
	ttl := eng.CooldownTTL
	if ttl <= 0 {
		ttl = DefaultCooldownTTL
	}
	now := eng.now()
	prev, err := eng.Counters.GetSet(ctx, cooldownKey(v.GuildID, v.SubjectID), now.UnixMilli(), ttl)
	if err != nil {
		return fmt.Errorf("updating violation cool-down: %w", err)
	}
	if prev > now.Add(-window).UnixMilli() {
		violationSuppressedCount.Inc()
		logger.Debug("suppressing repeat violation within cool-down")
		return nil
	}

	punishment, duration := v.Rule.PunishmentFor(v.Check)
	violationCount.WithLabelValues(v.Label, punishment.String()).Inc()
	logger.Info("anti-spam violation", "message", v.Message, "punishment", punishment, "duration", duration)

	eng.logAction(ctx, modlog.KindSpam, v.GuildID, map[string]string{
		"user_id":    v.SubjectID,
		"channel_id": v.ChannelID,
		"rule":       v.Rule.Name,
		"label":      v.Label,
		"message":    v.Message,
		"punishment": punishment.String(),
	})

	reason := fmt.Sprintf("Spam Detected: %s", v.Label)
	if err := eng.Punish(ctx, gc, v.SubjectID, punishment, duration, reason); err != nil {
		eng.logEnforcementError(ctx, v.GuildID, v.SubjectID, punishmentOp(punishment), err)
	}

	if punishment != config.PunishmentNone && v.Rule.Clean {
		eng.cleanMessages(ctx, v.GuildID, v.SubjectID, v.Rule.CleanCount, v.Rule.CleanDuration)
	}
	return nil
}

func punishmentOp(p config.Punishment) string {
	switch p {
	case config.PunishmentMute, config.PunishmentTempMute:
		return "mute"
	case config.PunishmentKick:
		return "kick"
	case config.PunishmentBan, config.PunishmentTempBan:
		return "ban"
	}
	return "punish"
}

// Applies a punishment to a guild member. Each platform action is preceded by registering the events it will echo, so those echoes are not logged as organic; the registration is withdrawn if the action fails.
func (eng *Engine) Punish(ctx context.Context, gc *config.GuildConfig, userID string, p config.Punishment, duration time.Duration, reason string) error {
	guildID := gc.GuildID
	userSel := map[string]string{"user_id": userID}
	inf := &store.Infraction{
		CreatedAt: eng.now(),
		GuildID:   guildID,
		UserID:    userID,
		ActorID:   eng.SelfID,
		Reason:    reason,
	}
	details := map[string]string{"user_id": userID, "reason": reason, "duration": duration.String()}

	var kind modlog.Kind
	switch p {
	case config.PunishmentNone:
		return nil
	case config.PunishmentMute, config.PunishmentTempMute:
		roleID := gc.Infractions.MuteRole
		if roleID == "" {
			return ErrNoMuteRole
		}
		h := eng.Correlations.Register(guildID, map[string]string{"user_id": userID, "role_id": roleID}, event.TypeGuildMemberUpdate)
		if err := eng.Platform.Mute(ctx, guildID, userID, roleID, reason); err != nil {
			h.Cancel()
			return err
		}
		inf.RoleID = roleID
		inf.Type = store.InfractionMute
		kind = modlog.KindMemberMuted
		if p == config.PunishmentTempMute {
			inf.Type = store.InfractionTempMute
			kind = modlog.KindMemberTempMuted
		}
	case config.PunishmentKick:
		h := eng.Correlations.Register(guildID, userSel, event.TypeGuildMemberRemove)
		if err := eng.Platform.Kick(ctx, guildID, userID, reason); err != nil {
			h.Cancel()
			return err
		}
		inf.Type = store.InfractionKick
		kind = modlog.KindMemberKick
	case config.PunishmentBan, config.PunishmentTempBan:
		h := eng.Correlations.Register(guildID, userSel, event.TypeGuildMemberRemove, event.TypeGuildBanAdd)
		if err := eng.Platform.Ban(ctx, guildID, userID, reason); err != nil {
			h.Cancel()
			return err
		}
		inf.Type = store.InfractionBan
		kind = modlog.KindMemberBan
		if p == config.PunishmentTempBan {
			inf.Type = store.InfractionTempBan
			kind = modlog.KindMemberTempBan
		}
	default:
		return fmt.Errorf("unsupported punishment: %s", p)
	}

	enforcementCount.WithLabelValues(p.String()).Inc()
	if p.Temporary() {
		expires := eng.now().Add(duration)
		inf.ExpiresAt = &expires
		inf.Active = true
	} else {
		inf.Active = p == config.PunishmentMute || p == config.PunishmentBan
	}
	if eng.Store != nil {
		if err := eng.Store.CreateInfraction(ctx, inf); err != nil {
			eng.Logger.Error("failed to record infraction", "guild", guildID, "user", userID, "type", inf.Type, "err", err)
		}
	}
	eng.logAction(ctx, kind, guildID, details)
	return nil
}

func (eng *Engine) logEnforcementError(ctx context.Context, guildID, userID, op string, err error) {
	enforcementErrorCount.WithLabelValues(op).Inc()
	eng.Logger.Error("enforcement action failed", "guild", guildID, "user", userID, "op", op, "err", err)
	kind := modlog.KindEnforcementFailed
	if platform.IsPermissionError(err) {
		kind = modlog.KindPermissionError
	}
	eng.logAction(ctx, kind, guildID, map[string]string{
		"user_id": userID,
		"op":      op,
		"error":   err.Error(),
	})
}

// Deletes up to count of the member's messages from the last lookback, one bulk request per channel. A failing channel doesn't stop the others.
func (eng *Engine) cleanMessages(ctx context.Context, guildID, userID string, count int, lookback time.Duration) {
	if eng.Store == nil || count <= 0 {
		return
	}
	msgs, err := eng.Store.RecentMessages(ctx, store.MessageQuery{
		GuildID:  guildID,
		AuthorID: userID,
		Since:    eng.now().Add(-lookback),
		Limit:    count,
	})
	if err != nil {
		eng.Logger.Error("failed to fetch messages for cleanup", "guild", guildID, "user", userID, "err", err)
		return
	}

	byChannel := make(map[string][]string)
	for _, m := range msgs {
		byChannel[m.ChannelID] = append(byChannel[m.ChannelID], m.ID)
	}
	channels := make([]string, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	for _, ch := range channels {
		ids := byChannel[ch]
		if err := eng.Platform.DeleteMessages(ctx, ch, ids); err != nil {
			eng.Logger.Warn("failed to clean messages in channel", "guild", guildID, "channel", ch, "user", userID, "err", err)
			continue
		}
		cleanedMessageCount.Add(float64(len(ids)))
		eng.logAction(ctx, modlog.KindMessagesCleaned, guildID, map[string]string{
			"user_id":    userID,
			"channel_id": ch,
			"count":      strconv.Itoa(len(ids)),
		})
	}
}

func (eng *Engine) logAction(ctx context.Context, kind modlog.Kind, guildID string, details map[string]string) {
	if eng.ActionLog == nil {
		return
	}
	if err := eng.ActionLog.LogAction(ctx, kind, guildID, details); err != nil {
		eng.Logger.Warn("failed to deliver action log", "kind", kind, "guild", guildID, "err", err)
	}
}

