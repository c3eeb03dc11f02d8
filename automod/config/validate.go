package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("invalid moderation config")

const (
	DefaultPunishmentDuration = 300 * time.Second
	DefaultCleanCount         = 100
	DefaultCleanDuration      = 900 * time.Second

	MaxCleanCount    = 1000
	MaxCleanDuration = 24 * time.Hour
)

// Checks bounds and builds lookup indexes. Must be called exactly once, before the config is shared. Zero durations and counts are kept as given; file configs get their defaults while decoding, see NewRule.
func (gc *GuildConfig) Validate() error {
	names := make(map[string]string, len(gc.Spam.Roles))
	for key := range gc.Spam.Roles {
		if !isRoleNameKey(key) {
			continue
		}
		lower := strings.ToLower(key)
		if other, ok := names[lower]; ok {
			return fmt.Errorf("%w: guild %s: role keys %q and %q differ only by case", ErrInvalidConfig, gc.GuildID, other, key)
		}
		names[lower] = key
	}
	for key, rule := range gc.Spam.Roles {
		if rule == nil {
			return fmt.Errorf("%w: guild %s: empty rule for role %q", ErrInvalidConfig, gc.GuildID, key)
		}
		rule.Name = "role:" + key
		if err := rule.validate(); err != nil {
			return fmt.Errorf("guild %s: %w", gc.GuildID, err)
		}
	}
	for lvl, rule := range gc.Spam.Levels {
		if rule == nil {
			return fmt.Errorf("%w: guild %s: empty rule for level %d", ErrInvalidConfig, gc.GuildID, lvl)
		}
		rule.Name = "level:" + strconv.Itoa(lvl)
		if err := rule.validate(); err != nil {
			return fmt.Errorf("guild %s: %w", gc.GuildID, err)
		}
	}
	gc.Spam.index()
	return nil
}

// Returns a rule carrying the default punishment duration and clean window.
func NewRule() *Rule {
	return &Rule{
		PunishmentDuration: DefaultPunishmentDuration,
		CleanCount:         DefaultCleanCount,
		CleanDuration:      DefaultCleanDuration,
	}
}

// Role keys which are matched against role names: everything but the wildcard and snowflake IDs.
func isRoleNameKey(key string) bool {
	if key == wildcardRole || key == "" {
		return false
	}
	for _, c := range key {
		if c < '0' || c > '9' {
			return true
		}
	}
	return false
}

func (r *Rule) validate() error {
	if !r.Punishment.Valid() {
		return fmt.Errorf("%w: rule %s: invalid punishment %s", ErrInvalidConfig, r.Name, r.Punishment)
	}
	if r.PunishmentDuration < 0 {
		return fmt.Errorf("%w: rule %s: negative punishment_duration", ErrInvalidConfig, r.Name)
	}
	if r.CleanCount < 0 || r.CleanCount > MaxCleanCount {
		return fmt.Errorf("%w: rule %s: clean_count must be between 0 and %d", ErrInvalidConfig, r.Name, MaxCleanCount)
	}
	if r.CleanDuration < 0 || r.CleanDuration > MaxCleanDuration {
		return fmt.Errorf("%w: rule %s: clean_duration must be between 0 and %s", ErrInvalidConfig, r.Name, MaxCleanDuration)
	}
	for _, m := range AllMetrics {
		c := r.Check(m)
		if c == nil {
			continue
		}
		if c.Count < 0 || c.Interval < 0 {
			return fmt.Errorf("%w: rule %s: %s count and interval must not be negative", ErrInvalidConfig, r.Name, m)
		}
		if c.Punishment != nil && !c.Punishment.Valid() {
			return fmt.Errorf("%w: rule %s: %s has invalid punishment", ErrInvalidConfig, r.Name, m)
		}
		if c.PunishmentDuration != nil && *c.PunishmentDuration < 0 {
			return fmt.Errorf("%w: rule %s: %s has negative punishment_duration", ErrInvalidConfig, r.Name, m)
		}
	}
	return nil
}
