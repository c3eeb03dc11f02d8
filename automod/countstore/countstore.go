// Automod component for sliding-window counters and short-lived cool-down markers.
//
// Includes an interface and implementations using redis and in-process memory. Rate limiting (leaky buckets) and violation cool-downs are both built on top of this.
package countstore

import (
	"context"
	"time"
)

type CountStore interface {
	// Adds `amount` hits (which may be zero) to the sliding window counter `key`, and returns the total number of hits within the trailing `window`, including this one.
	IncrementWindow(ctx context.Context, key string, amount int, window time.Duration) (int, error)
	// Stores `val` under `key` with the given expiration, returning the previous value. Returns zero if there was no (unexpired) previous value.
	GetSet(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error)
}
