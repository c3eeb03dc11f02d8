// Leaky bucket rate limiting on top of a CountStore sliding window.
package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/modwarden/warden/automod/countstore"
)

// LeakyBucket answers "has subject S exceeded Count hits per Interval?" for one metric in one guild.
//
// A bucket with zero Count or zero Interval is disabled: checks always pass and nothing is recorded.
type LeakyBucket struct {
	Store countstore.CountStore
	// Namespace for all subjects of this bucket, eg "spam:max_messages:<guild>"
	Prefix   string
	Count    int
	Interval time.Duration
}

func NewLeakyBucket(store countstore.CountStore, prefix string, count int, interval time.Duration) *LeakyBucket {
	return &LeakyBucket{
		Store:    store,
		Prefix:   prefix,
		Count:    count,
		Interval: interval,
	}
}

func (b *LeakyBucket) Enabled() bool {
	return b.Count > 0 && b.Interval > 0
}

func (b *LeakyBucket) key(subject string) string {
	return fmt.Sprintf("%s:%s", b.Prefix, subject)
}

// Records `amount` hits for the subject, and returns false once the total within the window exceeds capacity. The hit which breaches the limit is itself counted.
//
// Also returns the post-increment total.
func (b *LeakyBucket) Check(ctx context.Context, subject string, amount int) (bool, int, error) {
	if !b.Enabled() {
		return true, 0, nil
	}
	total, err := b.Store.IncrementWindow(ctx, b.key(subject), amount, b.Interval)
	if err != nil {
		return false, 0, err
	}
	return total <= b.Count, total, nil
}

// Same as Check, but only evaluates the amount function if the bucket is enabled.
func (b *LeakyBucket) CheckFunc(ctx context.Context, subject string, amount func() int) (bool, int, error) {
	if !b.Enabled() {
		return true, 0, nil
	}
	return b.Check(ctx, subject, amount())
}
