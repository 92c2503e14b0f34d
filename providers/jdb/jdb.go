// Package jdb launches games on JDB. Every request to JDB is a JSON object
// encrypted into the "x" form field.
package jdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"seamless/credentials"
	"seamless/helpers"
	"seamless/models"
	"seamless/providers"
)

const Name = "jdb"

var Currencies = []string{"IDR", "THB", "VND", "USD"}

// Actions understood by JDB.
const (
	ActionCancel     = 4
	ActionBalance    = 6
	ActionBetSettle  = 8
	ActionGameURL    = 11
	ActionHistoryURL = 54
)

const (
	StatusSuccess = "0000"
	defaultLang   = "en"
)

func LoadCredentials() (credentials.Table, error) {
	return credentials.Load(Name, Currencies...)
}

// Encrypt serialises v and encrypts it with the bundle's key.
func Encrypt(b credentials.Bundle, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return helpers.AESEncrypt(b.CryptoKey, b.CryptoIV, raw)
}

type urlResponse struct {
	Status string `json:"status"`
	Path   string `json:"path"`
	ErrMsg string `json:"err_text"`
}

type Launcher struct {
	api *providers.API
	now func() time.Time
}

var _ providers.Launcher = (*Launcher)(nil)

func NewLauncher(api *providers.API) *Launcher {
	return &Launcher{api: api, now: time.Now}
}

func (l *Launcher) Play(ctx context.Context, req providers.LaunchRequest, player *models.Player, b credentials.Bundle) (providers.Launch, error) {
	path, err := l.request(ctx, b, map[string]any{
		"action":     ActionGameURL,
		"ts":         l.now().UnixMilli(),
		"parent":     b.AgentID,
		"uid":        player.PlayID,
		"mType":      req.GameID,
		"lang":       lang(req.Language),
		"windowMode": windowMode(req.Device),
		"lobbyURL":   req.Host,
	})
	if err != nil {
		return providers.Launch{}, err
	}
	return providers.Launch{URL: path}, nil
}

func (l *Launcher) Visual(ctx context.Context, req providers.VisualRequest, player *models.Player, b credentials.Bundle) (string, error) {
	return l.request(ctx, b, map[string]any{
		"action":    ActionHistoryURL,
		"ts":        l.now().UnixMilli(),
		"parent":    b.AgentID,
		"uid":       player.PlayID,
		"historyId": req.BetID,
	})
}

func (l *Launcher) request(ctx context.Context, b credentials.Bundle, payload map[string]any) (string, error) {
	x, err := Encrypt(b, payload)
	if err != nil {
		return "", fmt.Errorf("%w: encrypt: %v", providers.ErrThirdPartyAPI, err)
	}
	form := url.Values{"dc": {b.AgentID}, "x": {x}}

	var resp urlResponse
	if err := l.api.PostForm(ctx, b.APIURL+"/apiRequest.do", nil, form, &resp); err != nil {
		return "", err
	}
	if resp.Status != StatusSuccess || resp.Path == "" {
		return "", fmt.Errorf("%w: jdb action %v: %s %s", providers.ErrThirdPartyAPI, payload["action"], resp.Status, resp.ErrMsg)
	}
	return resp.Path, nil
}

func lang(l string) string {
	if l == "" {
		return defaultLang
	}
	return strings.ToLower(l)
}

func windowMode(device string) string {
	if device == "mobile" {
		return "2"
	}
	return "1"
}
