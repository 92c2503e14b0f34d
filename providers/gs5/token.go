package gs5

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"seamless/credentials"
	"seamless/models"
	"seamless/session"
	"seamless/settlement"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid access token")

type claims struct {
	Currency string `json:"cur"`
	jwt.RegisteredClaims
}

func IssueToken(secret, playID, currency string, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("gs5 callback secret not configured")
	}
	c := claims{
		Currency: currency,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// Subject reads the play id from token without checking the signature. It
// only selects the player; VerifyToken decides whether the token is good.
func Subject(token string) (string, error) {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return "", ErrInvalidToken
	}
	return c.Subject, nil
}

// VerifyToken checks signature, expiry and subject.
func VerifyToken(secret, token, playID string) error {
	if secret == "" {
		return ErrInvalidToken
	}
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(playID),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}

// Authorizer accepts token when it verifies under the player's bundle and is
// still the player's active session.
func Authorizer(ctx context.Context, sessions session.Store, token string) settlement.Authorizer {
	return func(p *models.Player, b credentials.Bundle) bool {
		if err := VerifyToken(b.CallbackSecret, token, p.PlayID); err != nil {
			return false
		}
		active, err := sessions.Active(ctx, Name, p.PlayID)
		if err != nil {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(active), []byte(token)) == 1
	}
}
