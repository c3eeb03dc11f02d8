package engine

import (
	"context"

	"github.com/modwarden/warden/automod/event"
	"github.com/modwarden/warden/automod/modlog"
)

// implemented by platforms which cache member lookups
type memberPurger interface {
	PurgeMember(ctx context.Context, guildID, userID string) error
}

// implemented by platforms which cache role names
type rolePurger interface {
	PurgeRoles(ctx context.Context, guildID string) error
}

func (eng *Engine) processRoleUpdate(ctx context.Context, evt *event.GuildRoleUpdate) error {
	if p, ok := eng.Platform.(rolePurger); ok {
		if err := p.PurgeRoles(ctx, evt.GuildID); err != nil {
			eng.Logger.Warn("failed to purge cached roles", "guild", evt.GuildID, "role", evt.RoleID, "err", err)
		}
	}
	return nil
}

func (eng *Engine) purgeMember(ctx context.Context, guildID, userID string) {
	if p, ok := eng.Platform.(memberPurger); ok {
		if err := p.PurgeMember(ctx, guildID, userID); err != nil {
			eng.Logger.Warn("failed to purge cached member", "guild", guildID, "user", userID, "err", err)
		}
	}
}

// Consumes a matching correlation entry, if any. Returns true if the event is an echo of the engine's own action.
func (eng *Engine) isEcho(evt event.Event, attrs map[string]string) bool {
	if eng.Correlations == nil {
		return false
	}
	if e := eng.Correlations.Find(evt, true, attrs); e != nil {
		echoSuppressedCount.WithLabelValues(evt.Type()).Inc()
		eng.Logger.Debug("suppressed echo event", "type", evt.Type(), "guild", evt.Guild(), "selector", e.Selector)
		return true
	}
	return false
}

func (eng *Engine) processMemberRemove(ctx context.Context, evt *event.GuildMemberRemove) error {
	eng.purgeMember(ctx, evt.GuildID, evt.UserID)
	if eng.isEcho(evt, map[string]string{"user_id": evt.UserID}) {
		return nil
	}
	eng.logAction(ctx, modlog.KindMemberRemove, evt.GuildID, map[string]string{"user_id": evt.UserID})
	return nil
}

func (eng *Engine) processBanAdd(ctx context.Context, evt *event.GuildBanAdd) error {
	if eng.isEcho(evt, map[string]string{"user_id": evt.UserID}) {
		return nil
	}
	eng.logAction(ctx, modlog.KindBanAdd, evt.GuildID, map[string]string{"user_id": evt.UserID})
	return nil
}

func (eng *Engine) processBanRemove(ctx context.Context, evt *event.GuildBanRemove) error {
	if eng.isEcho(evt, map[string]string{"user_id": evt.UserID}) {
		return nil
	}
	eng.logAction(ctx, modlog.KindBanRemove, evt.GuildID, map[string]string{"user_id": evt.UserID})
	return nil
}

// Each added or removed role is matched separately, so a mute echo only hides the mute role change.
func (eng *Engine) processMemberUpdate(ctx context.Context, evt *event.GuildMemberUpdate) error {
	eng.purgeMember(ctx, evt.GuildID, evt.UserID)
	for _, roleID := range evt.AddedRoles {
		if eng.isEcho(evt, map[string]string{"user_id": evt.UserID, "role_id": roleID}) {
			continue
		}
		eng.logAction(ctx, modlog.KindRolesAdd, evt.GuildID, map[string]string{"user_id": evt.UserID, "role_id": roleID})
	}
	for _, roleID := range evt.RemovedRoles {
		if eng.isEcho(evt, map[string]string{"user_id": evt.UserID, "role_id": roleID}) {
			continue
		}
		eng.logAction(ctx, modlog.KindRolesRemove, evt.GuildID, map[string]string{"user_id": evt.UserID, "role_id": roleID})
	}
	return nil
}
