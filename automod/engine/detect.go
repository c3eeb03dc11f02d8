package engine

import (
	"context"
	"fmt"

	"github.com/modwarden/warden/automod/bucket"
	"github.com/modwarden/warden/automod/config"
	"github.com/modwarden/warden/automod/event"
	"github.com/modwarden/warden/automod/helpers"
	"github.com/modwarden/warden/automod/store"
)

// how many recent messages duplicate detection looks at
const duplicateLookback = 50

// subject used for checks scoped to the whole guild
const globalSubject = "*"

// A breached rule check. Violations are produced by Detect and consumed by Violate.
type Violation struct {
	Rule   *config.Rule
	Check  *config.Check
	Metric config.Metric

	GuildID string
	// the punished member: always the author of the triggering message
	SubjectID string
	ChannelID string
	MessageID string

	// eg "MAX_MESSAGES"
	Label string
	// eg "Too Many Messages (6 / 10s)"
	Message string
	// count which breached the limit; for duplicates, the total duplicated message count
	Count int
	// number of distinct duplicated contents; only set for duplicates
	Distinct int
}

type metricSpec struct {
	text   string
	amount func(msg *event.MessageCreate) int
}

var metricSpecs = map[config.Metric]metricSpec{
	config.MetricMessages: {"Too Many Messages", func(msg *event.MessageCreate) int {
		return 1
	}},
	config.MetricMentions: {"Too Many Mentions", func(msg *event.MessageCreate) int {
		return len(helpers.DedupeStrings(msg.Mentions))
	}},
	config.MetricLinks: {"Too Many Links", func(msg *event.MessageCreate) int {
		return helpers.CountLinks(msg.Content)
	}},
	config.MetricUpperCase: {"Too Many Capitals", func(msg *event.MessageCreate) int {
		return helpers.CountUpperCase(msg.Content)
	}},
	config.MetricEmojis: {"Too Many Emojis", func(msg *event.MessageCreate) int {
		return helpers.CountEmojis(msg.Content)
	}},
	config.MetricNewlines: {"Too Many Newlines", func(msg *event.MessageCreate) int {
		return helpers.CountNewlines(msg.Content)
	}},
	config.MetricAttachments: {"Too Many Attachments", func(msg *event.MessageCreate) int {
		return len(msg.Attachments)
	}},
}

func bucketPrefix(m config.Metric, guildID string) string {
	return fmt.Sprintf("spam:%s:%s", m, guildID)
}

// Evaluates a message against the given rules, in order. Returns the first breach found, or nil.
//
// Every enabled check along the way records its hits, so rate state keeps accumulating even for messages which don't violate anything.
func (eng *Engine) Detect(ctx context.Context, msg *event.MessageCreate, rules []*config.Rule) (*Violation, error) {
	for _, rule := range rules {
		v, err := eng.checkBuckets(ctx, msg, rule)
		if err != nil || v != nil {
			return v, err
		}
		v, err = eng.checkDuplicates(ctx, msg, rule)
		if err != nil || v != nil {
			return v, err
		}
	}
	return nil, nil
}

func (eng *Engine) checkBuckets(ctx context.Context, msg *event.MessageCreate, rule *config.Rule) (*Violation, error) {
	for _, m := range config.BucketMetrics {
		check := rule.Check(m)
		if !check.Enabled() {
			continue
		}
		spec := metricSpecs[m]
		subject := msg.AuthorID
		if check.Global() {
			subject = globalSubject
		}
		b := bucket.NewLeakyBucket(eng.Counters, bucketPrefix(m, msg.GuildID), check.Count, check.Interval)
		ok, total, err := b.CheckFunc(ctx, subject, func() int { return spec.amount(msg) })
		if err != nil {
			return nil, fmt.Errorf("checking %s bucket: %w", m, err)
		}
		if ok {
			continue
		}
		return &Violation{
			Rule:      rule,
			Check:     check,
			Metric:    m,
			GuildID:   msg.GuildID,
			SubjectID: msg.AuthorID,
			ChannelID: msg.ChannelID,
			MessageID: msg.MessageID,
			Label:     m.Label(),
			Message:   fmt.Sprintf("%s (%d / %ds)", spec.text, total, int(check.Interval.Seconds())),
			Count:     total,
		}, nil
	}
	return nil, nil
}

func (eng *Engine) checkDuplicates(ctx context.Context, msg *event.MessageCreate, rule *config.Rule) (*Violation, error) {
	check := rule.MaxDuplicates
	if !check.Enabled() || eng.Store == nil {
		return nil, nil
	}
	q := store.MessageQuery{
		GuildID: msg.GuildID,
		Since:   eng.now().Add(-check.Interval),
		Limit:   duplicateLookback,
	}
	if !check.Global() {
		q.AuthorID = msg.AuthorID
	}
	msgs, err := eng.Store.RecentMessages(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetching recent messages: %w", err)
	}

	counts := make(map[string]int)
	for _, m := range msgs {
		if m.Content != "" {
			counts[m.Content]++
		}
	}
	total, distinct := 0, 0
	for _, n := range counts {
		if n > check.Count {
			total += n
			distinct++
		}
	}
	if distinct == 0 {
		return nil, nil
	}
	return &Violation{
		Rule:      rule,
		Check:     check,
		Metric:    config.MetricDuplicates,
		GuildID:   msg.GuildID,
		SubjectID: msg.AuthorID,
		ChannelID: msg.ChannelID,
		MessageID: msg.MessageID,
		Label:     config.MetricDuplicates.Label(),
		Message:   fmt.Sprintf("Too Many Duplicated Messages (%d / %d)", total, distinct),
		Count:     total,
		Distinct:  distinct,
	}, nil
}
