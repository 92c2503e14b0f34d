package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	KindWager  = "wager"
	KindPayout = "payout"
	KindBonus  = "bonus"
	KindCancel = "cancel"
)

const (
	StatusPending   = "pending"
	StatusSettled   = "settled"
	StatusCancelled = "cancelled"
	StatusDone      = "done"
)

// Report is a transaction accepted by the wallet. (Provider, TxID) is the
// idempotency key and is enforced by a unique index.
type Report struct {
	gorm.Model

	Provider string `gorm:"size:16;not null;uniqueIndex:idx_report_provider_tx" json:"provider"`
	TxID     string `gorm:"size:96;not null;uniqueIndex:idx_report_provider_tx" json:"tx_id"`
	RoundID  string `gorm:"size:64;not null;index" json:"round_id"`
	Kind     string `gorm:"size:16;not null;index" json:"kind"`

	PlayerID  uint   `gorm:"index" json:"player_id"`
	PlayID    string `gorm:"size:64;index" json:"play_id"`
	Currency  string `gorm:"size:8" json:"currency"`
	GameCode  string `gorm:"size:64" json:"game_code"`
	Reference string `gorm:"size:96;index" json:"reference"`

	BetAmount decimal.Decimal `gorm:"type:numeric(20,4);default:0" json:"bet_amount"`
	WinAmount decimal.Decimal `gorm:"type:numeric(20,4);default:0" json:"win_amount"`

	Status    string    `gorm:"size:16;index" json:"status"`
	EventTime time.Time `json:"event_time"`

	Payload datatypes.JSON `json:"payload,omitempty"`
}

// TxKey builds the external transaction id "{kind}-{roundID}".
func TxKey(kind, roundID string) string {
	return kind + "-" + roundID
}
