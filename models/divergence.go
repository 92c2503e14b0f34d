package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Divergence records a transaction the wallet accepted while the local
// commit failed. Payload holds the Report rows that must exist locally.
type Divergence struct {
	gorm.Model

	Provider   string         `gorm:"size:16;not null;index"`
	TxID       string         `gorm:"size:96;not null;index"`
	Reason     string         `gorm:"size:255"`
	Payload    datatypes.JSON `gorm:"not null"`
	Attempts   int            `gorm:"default:0"`
	ResolvedAt *time.Time     `gorm:"index"`
}
