// Package gs5 launches games on Gs5. Amounts on the Gs5 wire are minor
// units: one unit is a hundredth of a wallet unit.
package gs5

import (
	"context"
	"net/url"
	"strings"
	"time"

	"seamless/credentials"
	"seamless/helpers"
	"seamless/models"
	"seamless/providers"
	"seamless/session"
	"seamless/settlement"
)

const Name = "gs5"

var Currencies = []string{"IDR", "THB", "USD"}

// Converter maps gold to wallet credit.
var Converter = settlement.Factor(100)

const TokenTTL = 24 * time.Hour

func LoadCredentials() (credentials.Table, error) {
	return credentials.Load(Name, Currencies...)
}

type Launcher struct {
	sessions session.Store
	now      func() time.Time
}

var _ providers.Launcher = (*Launcher)(nil)

func NewLauncher(sessions session.Store) *Launcher {
	return &Launcher{sessions: sessions, now: time.Now}
}

// Play issues a fresh access token, makes it the active session and
// composes the game URL around it. Any earlier token stops working.
func (l *Launcher) Play(ctx context.Context, req providers.LaunchRequest, player *models.Player, b credentials.Bundle) (providers.Launch, error) {
	token, err := IssueToken(b.CallbackSecret, player.PlayID, player.Currency, l.now())
	if err != nil {
		return providers.Launch{}, err
	}
	if err := l.sessions.Put(ctx, Name, player.PlayID, token, TokenTTL); err != nil {
		return providers.Launch{}, err
	}

	q := url.Values{}
	q.Set("host_id", b.AgentID)
	q.Set("game_id", req.GameID)
	q.Set("lang", strings.ToLower(req.Language))
	q.Set("access_token", token)
	if req.Host != "" {
		q.Set("return_url", req.Host)
	}
	return providers.Launch{
		URL:          b.APIURL + "/launch?" + q.Encode(),
		SessionToken: token,
	}, nil
}

func (l *Launcher) Visual(_ context.Context, req providers.VisualRequest, player *models.Player, b credentials.Bundle) (string, error) {
	q := url.Values{}
	q.Set("host_id", b.AgentID)
	q.Set("member_id", player.PlayID)
	q.Set("txn_id", req.BetID)
	q.Set("sign", helpers.MD5Hex(b.AgentID, player.PlayID, req.BetID, b.APISecret))
	return b.APIURL + "/history?" + q.Encode(), nil
}
