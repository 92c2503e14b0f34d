package settlement

import (
	"crypto/subtle"

	"seamless/credentials"
	"seamless/models"

	"github.com/shopspring/decimal"
)

// Outcome is the result of a settlement operation. Only OK moved money;
// every other value is an expected, non-exceptional answer that the HTTP
// layer maps to the provider's envelope.
type Outcome int

const (
	OK Outcome = iota
	AlreadyExists
	AlreadySettled
	TransactionNotFound
	PlayerNotFound
	InvalidSecret
	InsufficientFunds
	CannotCancel
	WagerCancelled
	WalletError
	InvalidCurrency
)

var outcomeNames = map[Outcome]string{
	OK:                  "ok",
	AlreadyExists:       "already_exists",
	AlreadySettled:      "already_settled",
	TransactionNotFound: "transaction_not_found",
	PlayerNotFound:      "player_not_found",
	InvalidSecret:       "invalid_secret",
	InsufficientFunds:   "insufficient_funds",
	CannotCancel:        "cannot_cancel",
	WagerCancelled:      "wager_cancelled",
	WalletError:         "wallet_error",
	InvalidCurrency:     "invalid_currency",
}

func (o Outcome) String() string {
	if s, ok := outcomeNames[o]; ok {
		return s
	}
	return "unknown"
}

// Duplicate reports whether the request was already applied before.
func (o Outcome) Duplicate() bool {
	return o == AlreadyExists || o == AlreadySettled
}

type Result struct {
	Outcome Outcome
	// Balance is in provider units. It is filled for OK and, when the wallet
	// answers, for duplicates and InsufficientFunds.
	Balance decimal.Decimal
	Player  *models.Player
	Report  *models.Report
	// WalletStatus is the raw status of the rejecting wallet call.
	WalletStatus int
}

// Authorizer decides whether a callback may act on player under bundle.
type Authorizer func(player *models.Player, b credentials.Bundle) bool

// SharedSecret accepts callbacks carrying the bundle's callback secret.
func SharedSecret(secret string) Authorizer {
	return func(_ *models.Player, b credentials.Bundle) bool {
		if b.CallbackSecret == "" {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(secret), []byte(b.CallbackSecret)) == 1
	}
}

// Converter maps provider units to wallet units: wallet = provider * Factor.
// The zero value is the identity.
type Converter struct {
	Factor decimal.Decimal
}

func Factor(f int64) Converter {
	return Converter{Factor: decimal.NewFromInt(f)}
}

func (c Converter) factor() decimal.Decimal {
	if c.Factor.IsZero() {
		return decimal.NewFromInt(1)
	}
	return c.Factor
}

func (c Converter) ToWallet(providerAmount decimal.Decimal) decimal.Decimal {
	return providerAmount.Mul(c.factor())
}

func (c Converter) FromWallet(walletAmount decimal.Decimal) decimal.Decimal {
	return walletAmount.Div(c.factor())
}
