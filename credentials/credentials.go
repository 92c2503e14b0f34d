package credentials

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

var ErrInvalidCurrency = errors.New("invalid currency")

const EnvProduction = "production"

// Bundle is the fixed set of secrets and endpoints used for one provider in
// one currency.
type Bundle struct {
	Currency string

	WalletAddr          string `env:"WALLET_ADDR"`
	WalletToken         string `env:"WALLET_TOKEN"`
	WalletSigningSecret string `env:"WALLET_SIGNING_SECRET"`

	APIURL    string `env:"API_URL"`
	APIKey    string `env:"API_KEY"`
	APISecret string `env:"API_SECRET"`
	AgentID   string `env:"AGENT_ID"`
	CryptoKey string `env:"CRYPTO_KEY"`
	CryptoIV  string `env:"CRYPTO_IV"`

	// CallbackSecret authenticates calls made by the provider to us.
	CallbackSecret string `env:"CALLBACK_SECRET"`
}

// Table maps (environment, currency) to a bundle. It is never mutated after
// construction.
type Table struct {
	Staging    Bundle
	Production map[string]Bundle
}

// Resolve returns the bundle for env and currency. Outside production the
// staging bundle is returned whatever the currency.
func (t Table) Resolve(environment, currency string) (Bundle, error) {
	if environment != EnvProduction {
		b := t.Staging
		b.Currency = strings.ToUpper(currency)
		return b, nil
	}
	b, ok := t.Production[strings.ToUpper(currency)]
	if !ok {
		return Bundle{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return b, nil
}

// Currencies lists the currencies served in production.
func (t Table) Currencies() []string {
	out := make([]string, 0, len(t.Production))
	for c := range t.Production {
		out = append(out, c)
	}
	return out
}

// Load reads the staging bundle from <PREFIX>_STAGING_* and one production
// bundle per currency from <PREFIX>_<CURRENCY>_*.
func Load(prefix string, currencies ...string) (Table, error) {
	prefix = strings.ToUpper(prefix)

	var t Table
	if err := env.ParseWithOptions(&t.Staging, env.Options{Prefix: prefix + "_STAGING_"}); err != nil {
		return Table{}, fmt.Errorf("load %s staging credentials: %w", prefix, err)
	}

	t.Production = make(map[string]Bundle, len(currencies))
	for _, cur := range currencies {
		cur = strings.ToUpper(cur)
		var b Bundle
		if err := env.ParseWithOptions(&b, env.Options{Prefix: prefix + "_" + cur + "_"}); err != nil {
			return Table{}, fmt.Errorf("load %s %s credentials: %w", prefix, cur, err)
		}
		b.Currency = cur
		t.Production[cur] = b
	}
	return t, nil
}
