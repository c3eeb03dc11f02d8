package countstore

import (
	"context"
	"sync"
	"time"
)

type windowHit struct {
	at     time.Time
	amount int
}

type expiringValue struct {
	val     int64
	expires time.Time
}

// In-process CountStore, safe for concurrent use. Window state is pruned on access.
type MemCountStore struct {
	// Clock override, for tests. Defaults to time.Now.
	Now func() time.Time

	lk      sync.Mutex
	windows map[string][]windowHit
	values  map[string]expiringValue
}

var _ CountStore = (*MemCountStore)(nil)

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		windows: make(map[string][]windowHit),
		values:  make(map[string]expiringValue),
	}
}

func (s *MemCountStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *MemCountStore) IncrementWindow(ctx context.Context, key string, amount int, window time.Duration) (int, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	now := s.now()
	cutoff := now.Add(-window)
	hits := s.windows[key]
	live := hits[:0]
	for _, h := range hits {
		if h.at.After(cutoff) {
			live = append(live, h)
		}
	}
	if amount > 0 {
		live = append(live, windowHit{at: now, amount: amount})
	}

	total := 0
	for _, h := range live {
		total += h.amount
	}
	if len(live) == 0 {
		delete(s.windows, key)
	} else {
		s.windows[key] = live
	}
	return total, nil
}

func (s *MemCountStore) GetSet(ctx context.Context, key string, val int64, ttl time.Duration) (int64, error) {
	s.lk.Lock()
	defer s.lk.Unlock()

	now := s.now()
	var prev int64
	if v, ok := s.values[key]; ok && now.Before(v.expires) {
		prev = v.val
	}
	s.values[key] = expiringValue{val: val, expires: now.Add(ttl)}
	return prev, nil
}
