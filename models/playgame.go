package models

import (
	"time"

	"gorm.io/gorm"
)

// PlayGame tracks the active session token a provider was handed at launch.
type PlayGame struct {
	gorm.Model

	Provider  string    `gorm:"size:16;not null;uniqueIndex:idx_playgame_provider_play"`
	PlayID    string    `gorm:"size:64;not null;uniqueIndex:idx_playgame_provider_play"`
	Token     string    `gorm:"size:512;not null"`
	ExpiresAt time.Time `gorm:"index"`
}
