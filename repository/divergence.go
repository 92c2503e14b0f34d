package repository

import (
	"context"
	"time"

	"seamless/models"

	"gorm.io/gorm"
)

// Divergences reads and closes divergence rows across all providers.
type Divergences struct {
	db *gorm.DB
}

func NewDivergences(db *gorm.DB) *Divergences {
	return &Divergences{db: db}
}

// Pending returns unresolved divergences that have been tried fewer than
// maxAttempts times, oldest first.
func (d *Divergences) Pending(ctx context.Context, limit, maxAttempts int) ([]models.Divergence, error) {
	var rows []models.Divergence
	err := d.db.WithContext(ctx).
		Where("resolved_at IS NULL AND attempts < ?", maxAttempts).
		Order("id").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (d *Divergences) Resolve(ctx context.Context, id uint, at time.Time) error {
	return d.db.WithContext(ctx).
		Model(&models.Divergence{}).
		Where("id = ?", id).
		Updates(map[string]any{"resolved_at": at, "attempts": gorm.Expr("attempts + 1")}).Error
}

func (d *Divergences) Fail(ctx context.Context, id uint, reason string) error {
	return d.db.WithContext(ctx).
		Model(&models.Divergence{}).
		Where("id = ?", id).
		Updates(map[string]any{"reason": reason, "attempts": gorm.Expr("attempts + 1")}).Error
}
