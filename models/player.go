package models

import "gorm.io/gorm"

// Player is one operator player as seen by one provider.
type Player struct {
	gorm.Model

	Provider string `gorm:"size:16;not null;uniqueIndex:idx_player_provider_play" json:"provider"`
	PlayID   string `gorm:"size:64;not null;uniqueIndex:idx_player_provider_play" json:"play_id"`
	Username string `gorm:"size:64" json:"username"`
	Currency string `gorm:"size:8;not null" json:"currency"`

	// provider-assigned keys
	SessionToken   string `gorm:"size:512" json:"-"`
	ProviderUserID string `gorm:"size:64;index" json:"provider_user_id"`
	GameCode       string `gorm:"size:64" json:"game_code"`
}
