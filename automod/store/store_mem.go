package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store held in process memory. Messages older than Retention are dropped on write.
type MemStore struct {
	Retention time.Duration

	lk          sync.Mutex
	messages    map[string][]Message
	infractions []Infraction
	nextID      uint
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		Retention: 24 * time.Hour,
		messages:  make(map[string][]Message),
	}
}

func (s *MemStore) SaveMessage(ctx context.Context, msg *Message) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	msgs := append(s.messages[msg.GuildID], *msg)
	if s.Retention > 0 {
		cutoff := msg.Timestamp.Add(-s.Retention)
		keep := msgs[:0]
		for _, m := range msgs {
			if m.Timestamp.After(cutoff) {
				keep = append(keep, m)
			}
		}
		msgs = keep
	}
	s.messages[msg.GuildID] = msgs
	return nil
}

func (s *MemStore) RecentMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	var out []Message
	for _, m := range s.messages[q.GuildID] {
		if q.AuthorID != "" && m.AuthorID != q.AuthorID {
			continue
		}
		if m.Timestamp.Before(q.Since) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemStore) CreateInfraction(ctx context.Context, inf *Infraction) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.nextID++
	inf.ID = s.nextID
	if inf.CreatedAt.IsZero() {
		inf.CreatedAt = time.Now()
	}
	s.infractions = append(s.infractions, *inf)
	return nil
}

func (s *MemStore) DueInfractions(ctx context.Context, now time.Time) ([]Infraction, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	var out []Infraction
	for _, inf := range s.infractions {
		if inf.Active && inf.ExpiresAt != nil && !inf.ExpiresAt.After(now) {
			out = append(out, inf)
		}
	}
	return out, nil
}

func (s *MemStore) DeactivateInfraction(ctx context.Context, id uint) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	for i := range s.infractions {
		if s.infractions[i].ID == id {
			s.infractions[i].Active = false
		}
	}
	return nil
}

// All infractions recorded for a guild member, oldest first.
func (s *MemStore) Infractions(guildID, userID string) []Infraction {
	s.lk.Lock()
	defer s.lk.Unlock()
	var out []Infraction
	for _, inf := range s.infractions {
		if inf.GuildID == guildID && inf.UserID == userID {
			out = append(out, inf)
		}
	}
	return out
}
