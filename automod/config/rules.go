package config

import (
	"sort"
	"strings"
	"time"

	"github.com/modwarden/warden/automod/event"
)

// Name of a per-message rate limited attribute. These double as the configuration keys of a rule's checks.
type Metric string

const (
	MetricMessages    Metric = "max_messages"
	MetricMentions    Metric = "max_mentions"
	MetricLinks       Metric = "max_links"
	MetricUpperCase   Metric = "max_upper_case"
	MetricEmojis      Metric = "max_emojis"
	MetricNewlines    Metric = "max_newlines"
	MetricAttachments Metric = "max_attachments"
	MetricDuplicates  Metric = "max_duplicates"
)

// Leaky-bucket metrics, in evaluation order. Duplicate detection is handled separately.
var BucketMetrics = []Metric{
	MetricMessages,
	MetricMentions,
	MetricLinks,
	MetricUpperCase,
	MetricEmojis,
	MetricNewlines,
	MetricAttachments,
}

var AllMetrics = append(append([]Metric{}, BucketMetrics...), MetricDuplicates)

// Violation label, eg "MAX_MESSAGES"
func (m Metric) Label() string {
	return strings.ToUpper(string(m))
}

// A single rate limit within a rule: more than Count hits per Interval is a violation.
type Check struct {
	Count    int               `mapstructure:"count"`
	Interval time.Duration     `mapstructure:"interval"`
	Meta     map[string]string `mapstructure:"meta"`
	// Overrides the rule's punishment when this check is the one breached
	Punishment         *Punishment    `mapstructure:"punishment"`
	PunishmentDuration *time.Duration `mapstructure:"punishment_duration"`
}

func (c *Check) Enabled() bool {
	return c != nil && c.Count > 0 && c.Interval > 0
}

// A global check counts across all members of the guild, instead of per member.
func (c *Check) Global() bool {
	if c == nil || c.Meta == nil {
		return false
	}
	if strings.EqualFold(c.Meta["scope"], "global") {
		return true
	}
	switch strings.ToLower(c.Meta["global"]) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// Named bundle of checks, with the default punishment applied when any of them is breached.
type Rule struct {
	// Assigned during validation, eg "role:*" or "level:10"; used in logs.
	Name string `mapstructure:"-"`

	MaxMessages    *Check `mapstructure:"max_messages"`
	MaxMentions    *Check `mapstructure:"max_mentions"`
	MaxLinks       *Check `mapstructure:"max_links"`
	MaxUpperCase   *Check `mapstructure:"max_upper_case"`
	MaxEmojis      *Check `mapstructure:"max_emojis"`
	MaxNewlines    *Check `mapstructure:"max_newlines"`
	MaxAttachments *Check `mapstructure:"max_attachments"`
	MaxDuplicates  *Check `mapstructure:"max_duplicates"`

	Punishment         Punishment    `mapstructure:"punishment"`
	PunishmentDuration time.Duration `mapstructure:"punishment_duration"`

	// If set, a punished member's recent messages are deleted
	Clean         bool          `mapstructure:"clean"`
	CleanCount    int           `mapstructure:"clean_count"`
	CleanDuration time.Duration `mapstructure:"clean_duration"`
}

// Returns the rule's check for the given metric, or nil if not configured.
func (r *Rule) Check(m Metric) *Check {
	switch m {
	case MetricMessages:
		return r.MaxMessages
	case MetricMentions:
		return r.MaxMentions
	case MetricLinks:
		return r.MaxLinks
	case MetricUpperCase:
		return r.MaxUpperCase
	case MetricEmojis:
		return r.MaxEmojis
	case MetricNewlines:
		return r.MaxNewlines
	case MetricAttachments:
		return r.MaxAttachments
	case MetricDuplicates:
		return r.MaxDuplicates
	}
	return nil
}

// Effective punishment and duration when the given check of this rule is breached.
func (r *Rule) PunishmentFor(c *Check) (Punishment, time.Duration) {
	p := r.Punishment
	d := r.PunishmentDuration
	if c != nil && c.Punishment != nil {
		p = *c.Punishment
	}
	if c != nil && c.PunishmentDuration != nil && *c.PunishmentDuration > 0 {
		d = *c.PunishmentDuration
	}
	return p, d
}

// Anti-spam rules, scoped by role (ID, name, or "*" for everybody) and by permission level threshold.
type SpamConfig struct {
	Roles  map[string]*Rule `mapstructure:"roles"`
	Levels map[int]*Rule    `mapstructure:"levels"`

	// lower-cased role name index, built during validation; excludes the wildcard and ID keys
	rolesByName map[string]*Rule
	// sorted ascending, built during validation
	levelThresholds []int
}

const wildcardRole = "*"

// Yields the rules applicable to a member, in precedence order: the wildcard role rule, then rules for each role the member holds (by ID, then by case-insensitive name), then every level rule whose threshold is at or above the member's level.
func (sc *SpamConfig) RelevantRules(member *event.Member, level int) []*Rule {
	var out []*Rule
	if len(sc.Roles) > 0 {
		if r, ok := sc.Roles[wildcardRole]; ok {
			out = append(out, r)
		}
		for _, role := range member.Roles {
			if r, ok := sc.Roles[role.ID]; ok {
				out = append(out, r)
			}
			if role.Name == "" {
				continue
			}
			if r, ok := sc.rolesByName[strings.ToLower(role.Name)]; ok {
				out = append(out, r)
			}
		}
	}
	for _, lvl := range sc.levelThresholds {
		if level <= lvl {
			out = append(out, sc.Levels[lvl])
		}
	}
	return out
}

func (sc *SpamConfig) index() {
	sc.rolesByName = make(map[string]*Rule, len(sc.Roles))
	for k, r := range sc.Roles {
		if isRoleNameKey(k) {
			sc.rolesByName[strings.ToLower(k)] = r
		}
	}
	sc.levelThresholds = make([]int, 0, len(sc.Levels))
	for lvl := range sc.Levels {
		sc.levelThresholds = append(sc.levelThresholds, lvl)
	}
	sort.Ints(sc.levelThresholds)
}

type InfractionsConfig struct {
	// Role applied to muted members
	MuteRole string `mapstructure:"mute_role"`
}

type ModLogConfig struct {
	// Channel receiving moderation log messages; empty disables channel logging
	Channel string `mapstructure:"channel"`
	// Prefix channel log messages with a "[HH:MM:SS]" timestamp
	Timestamps bool `mapstructure:"timestamps"`
}

// Complete configuration of one guild.
type GuildConfig struct {
	GuildID     string            `mapstructure:"-"`
	Spam        SpamConfig        `mapstructure:"spam"`
	Infractions InfractionsConfig `mapstructure:"infractions"`
	ModLog      ModLogConfig      `mapstructure:"modlog"`
	// Permission levels, keyed by user ID or role ID
	Levels map[string]int `mapstructure:"levels"`
}

// Permission level of a member: the member's own entry if present, otherwise the highest level among their roles, otherwise zero.
func (gc *GuildConfig) LevelFor(member *event.Member) int {
	if lvl, ok := gc.Levels[member.UserID]; ok {
		return lvl
	}
	level := 0
	for _, role := range member.Roles {
		if lvl, ok := gc.Levels[role.ID]; ok && lvl > level {
			level = lvl
		}
	}
	return level
}
