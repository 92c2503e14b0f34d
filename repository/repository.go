package repository

import (
	"context"
	"errors"
	"fmt"

	"seamless/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
	ErrConflict  = errors.New("status conflict")
)

// StatusConflict is returned by MarkSettled when the row is not in the
// expected status.
type StatusConflict struct {
	TxID string
	Want string
	Got  string
}

func (c *StatusConflict) Error() string {
	return fmt.Sprintf("%s: %s is %s, want %s", ErrConflict, c.TxID, c.Got, c.Want)
}

func (c *StatusConflict) Is(target error) bool {
	return target == ErrConflict
}

// Repository is the persistence gateway of a single provider module.
type Repository interface {
	Provider() string

	FindPlayer(ctx context.Context, playID string) (*models.Player, error)
	UpsertPlayer(ctx context.Context, p *models.Player) (*models.Player, error)
	UpdateSessionToken(ctx context.Context, playID, token string) error

	FindReport(ctx context.Context, txID string) (*models.Report, error)
	FindReportByReference(ctx context.Context, kind, reference string) (*models.Report, error)
	InsertReport(ctx context.Context, r *models.Report) error
	RestoreReport(ctx context.Context, r *models.Report) (bool, error)
	// MarkSettled moves txID from status from to status to. An empty from
	// matches any status.
	MarkSettled(ctx context.Context, txID, from, to string, win decimal.Decimal) error

	RecordDivergence(ctx context.Context, d *models.Divergence) error

	// InTx runs fn inside one database transaction. The transaction is
	// rolled back when fn returns an error.
	InTx(ctx context.Context, fn func(tx Repository) error) error
}

var _ Repository = (*GormRepository)(nil)

type GormRepository struct {
	db       *gorm.DB
	provider string
}

func New(db *gorm.DB, provider string) *GormRepository {
	return &GormRepository{db: db, provider: provider}
}

func (r *GormRepository) Provider() string {
	return r.provider
}

func (r *GormRepository) FindPlayer(ctx context.Context, playID string) (*models.Player, error) {
	var p models.Player
	err := r.db.WithContext(ctx).
		Where("provider = ? AND play_id = ?", r.provider, playID).
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// UpsertPlayer inserts p unless the (provider, play id) pair already exists,
// then returns the stored row. Two concurrent launches end with one row.
func (r *GormRepository) UpsertPlayer(ctx context.Context, p *models.Player) (*models.Player, error) {
	p.Provider = r.provider
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "play_id"}},
			DoNothing: true,
		}).
		Create(p).Error
	if err != nil {
		return nil, fmt.Errorf("upsert player %s: %w", p.PlayID, translate(err))
	}
	return r.FindPlayer(ctx, p.PlayID)
}

func (r *GormRepository) UpdateSessionToken(ctx context.Context, playID, token string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Player{}).
		Where("provider = ? AND play_id = ?", r.provider, playID).
		Update("session_token", token)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepository) FindReport(ctx context.Context, txID string) (*models.Report, error) {
	var rep models.Report
	err := r.db.WithContext(ctx).
		Where("provider = ? AND tx_id = ?", r.provider, txID).
		First(&rep).Error
	if err != nil {
		return nil, translate(err)
	}
	return &rep, nil
}

func (r *GormRepository) FindReportByReference(ctx context.Context, kind, reference string) (*models.Report, error) {
	var rep models.Report
	err := r.db.WithContext(ctx).
		Where("provider = ? AND kind = ? AND reference = ?", r.provider, kind, reference).
		First(&rep).Error
	if err != nil {
		return nil, translate(err)
	}
	return &rep, nil
}

func (r *GormRepository) InsertReport(ctx context.Context, rep *models.Report) error {
	rep.Provider = r.provider
	if err := r.db.WithContext(ctx).Create(rep).Error; err != nil {
		return translate(err)
	}
	return nil
}

// RestoreReport inserts rep unless its key already exists and reports
// whether a row was written.
func (r *GormRepository) RestoreReport(ctx context.Context, rep *models.Report) (bool, error) {
	rep.Provider = r.provider
	rep.ID = 0
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "tx_id"}},
			DoNothing: true,
		}).
		Create(rep)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository) MarkSettled(ctx context.Context, txID, from, to string, win decimal.Decimal) error {
	q := r.db.WithContext(ctx).
		Model(&models.Report{}).
		Where("provider = ? AND tx_id = ?", r.provider, txID)
	if from != "" {
		q = q.Where("status = ?", from)
	}
	res := q.Updates(map[string]any{"status": to, "win_amount": win})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	cur, err := r.FindReport(ctx, txID)
	if err != nil {
		return err
	}
	return &StatusConflict{TxID: txID, Want: from, Got: cur.Status}
}

func (r *GormRepository) RecordDivergence(ctx context.Context, d *models.Divergence) error {
	d.Provider = r.provider
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *GormRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx, provider: r.provider})
	})
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

// IsUniqueViolation reports whether err came from a unique constraint,
// whether or not gorm translated it.
func IsUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, ErrDuplicate) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
