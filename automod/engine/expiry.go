package engine

import (
	"context"
	"fmt"

	"github.com/modwarden/warden/automod/event"
	"github.com/modwarden/warden/automod/modlog"
	"github.com/modwarden/warden/automod/platform"
	"github.com/modwarden/warden/automod/store"
)

const expiryReason = "Temporary punishment expired"

// Reverses every temporary punishment whose expiry has passed. Meant to be run periodically.
//
// Infractions which fail to reverse stay active and are retried on the next run, except for permission failures, which would never succeed.
func (eng *Engine) RunExpiry(ctx context.Context) error {
	if eng.Store == nil {
		return nil
	}
	due, err := eng.Store.DueInfractions(ctx, eng.now())
	if err != nil {
		return fmt.Errorf("fetching due infractions: %w", err)
	}
	for _, inf := range due {
		eng.expireInfraction(ctx, inf)
	}
	return nil
}

func (eng *Engine) expireInfraction(ctx context.Context, inf store.Infraction) {
	lk := eng.guildLock(inf.GuildID)
	lk.Lock()
	defer lk.Unlock()

	logger := eng.Logger.With("guild", inf.GuildID, "user", inf.UserID, "infraction", inf.ID, "type", inf.Type)

	var err error
	var op string
	var kind modlog.Kind
	switch inf.Type {
	case store.InfractionTempMute:
		op, kind = "unmute", modlog.KindMemberUnmuted
		h := eng.Correlations.Register(inf.GuildID, map[string]string{"user_id": inf.UserID, "role_id": inf.RoleID}, event.TypeGuildMemberUpdate)
		if err = eng.Platform.Unmute(ctx, inf.GuildID, inf.UserID, inf.RoleID, expiryReason); err != nil {
			h.Cancel()
		}
	case store.InfractionTempBan:
		op, kind = "unban", modlog.KindTempBanExpire
		h := eng.Correlations.Register(inf.GuildID, map[string]string{"user_id": inf.UserID}, event.TypeGuildBanRemove)
		if err = eng.Platform.Unban(ctx, inf.GuildID, inf.UserID, expiryReason); err != nil {
			h.Cancel()
		}
	default:
		logger.Warn("infraction type has no expiry action")
	}

	if err != nil {
		eng.logEnforcementError(ctx, inf.GuildID, inf.UserID, op, err)
		if !platform.IsPermissionError(err) {
			return
		}
	} else if kind != "" {
		infractionExpiredCount.WithLabelValues(inf.Type).Inc()
		logger.Info("reversed expired punishment")
		eng.logAction(ctx, kind, inf.GuildID, map[string]string{"user_id": inf.UserID, "reason": expiryReason})
	}

	if err := eng.Store.DeactivateInfraction(ctx, inf.ID); err != nil {
		logger.Error("failed to deactivate infraction", "err", err)
	}
}
