package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store backed by a SQL database (sqlite or postgres) through gorm.
//
// All times are written and compared in UTC: sqlite keeps them as formatted strings, so mixed zone offsets would not compare chronologically.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Message{}, &Infraction{}); err != nil {
		return nil, fmt.Errorf("migrating moderation tables: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) SaveMessage(ctx context.Context, msg *Message) error {
	row := *msg
	row.Timestamp = row.Timestamp.UTC()
	// gateway may redeliver a message after a resume
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *GormStore) RecentMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	var out []Message
	tx := s.db.WithContext(ctx).Where("guild_id = ? AND timestamp >= ?", q.GuildID, q.Since.UTC())
	if q.AuthorID != "" {
		tx = tx.Where("author_id = ?", q.AuthorID)
	}
	tx = tx.Order("timestamp DESC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) CreateInfraction(ctx context.Context, inf *Infraction) error {
	if !inf.CreatedAt.IsZero() {
		inf.CreatedAt = inf.CreatedAt.UTC()
	}
	if inf.ExpiresAt != nil {
		exp := inf.ExpiresAt.UTC()
		inf.ExpiresAt = &exp
	}
	return s.db.WithContext(ctx).Create(inf).Error
}

func (s *GormStore) DueInfractions(ctx context.Context, now time.Time) ([]Infraction, error) {
	var out []Infraction
	err := s.db.WithContext(ctx).
		Where("active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now.UTC()).
		Order("expires_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) DeactivateInfraction(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&Infraction{}).Where("id = ?", id).Update("active", false).Error
}

// Deletes stored messages older than the cutoff. Returns the number of rows removed.
func (s *GormStore) PruneMessages(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", before.UTC()).Delete(&Message{})
	return res.RowsAffected, res.Error
}
