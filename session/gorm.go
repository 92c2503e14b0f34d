package session

import (
	"context"
	"errors"
	"time"

	"seamless/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ Store = (*GormStore)(nil)

// GormStore keeps sessions in the playgame table when Redis is not
// configured.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) Put(ctx context.Context, provider, playID, token string, ttl time.Duration) error {
	row := models.PlayGame{
		Provider:  provider,
		PlayID:    playID,
		Token:     token,
		ExpiresAt: s.now().Add(ttl).UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "play_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"token", "expires_at", "updated_at"}),
		}).
		Create(&row).Error
}

func (s *GormStore) Active(ctx context.Context, provider, playID string) (string, error) {
	var row models.PlayGame
	err := s.db.WithContext(ctx).
		Where("provider = ? AND play_id = ? AND expires_at > ?", provider, playID, s.now().UTC()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", err
	}
	return row.Token, nil
}

// Cleanup removes sessions that expired or were last issued more than
// maxAge ago.
func (s *GormStore) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).
		Unscoped().
		Where("expires_at < ? OR updated_at < ?", now, now.Add(-maxAge)).
		Delete(&models.PlayGame{})
	return res.RowsAffected, res.Error
}
