// Package aix launches games on the Aix platform.
package aix

import (
	"context"
	"fmt"
	"strings"

	"seamless/credentials"
	"seamless/helpers"
	"seamless/models"
	"seamless/providers"
)

const Name = "aix"

var Currencies = []string{"IDR", "PHP", "THB", "VND", "BRL", "USD"}

func LoadCredentials() (credentials.Table, error) {
	return credentials.Load(Name, Currencies...)
}

type Launcher struct {
	api *providers.API
}

var _ providers.Launcher = (*Launcher)(nil)

func NewLauncher(api *providers.API) *Launcher {
	return &Launcher{api: api}
}

type urlResponse struct {
	Status int    `json:"status"`
	URL    string `json:"url"`
	Token  string `json:"token"`
	Error  string `json:"error"`
}

func (l *Launcher) Play(ctx context.Context, req providers.LaunchRequest, player *models.Player, b credentials.Bundle) (providers.Launch, error) {
	body := map[string]any{
		"agent_id":   b.AgentID,
		"user_id":    player.PlayID,
		"username":   player.Username,
		"currency":   player.Currency,
		"game_id":    req.GameID,
		"lang":       lang(req.Language),
		"device":     device(req.Device),
		"return_url": req.Host,
		"ip":         req.MemberIP,
		"sign":       helpers.MD5Hex(b.AgentID, player.PlayID, b.APISecret),
	}

	var resp urlResponse
	if err := l.api.PostJSON(ctx, b.APIURL+"/launch", headers(b), body, &resp); err != nil {
		return providers.Launch{}, err
	}
	if resp.Status != 1 || resp.URL == "" {
		return providers.Launch{}, fmt.Errorf("%w: aix launch: %s", providers.ErrThirdPartyAPI, resp.Error)
	}
	return providers.Launch{URL: resp.URL, SessionToken: resp.Token}, nil
}

func (l *Launcher) Visual(ctx context.Context, req providers.VisualRequest, player *models.Player, b credentials.Bundle) (string, error) {
	body := map[string]any{
		"agent_id": b.AgentID,
		"user_id":  player.PlayID,
		"txn_id":   req.BetID,
		"sign":     helpers.MD5Hex(b.AgentID, player.PlayID, b.APISecret),
	}

	var resp urlResponse
	if err := l.api.PostJSON(ctx, b.APIURL+"/history", headers(b), body, &resp); err != nil {
		return "", err
	}
	if resp.Status != 1 || resp.URL == "" {
		return "", fmt.Errorf("%w: aix history: %s", providers.ErrThirdPartyAPI, resp.Error)
	}
	return resp.URL, nil
}

func headers(b credentials.Bundle) map[string]string {
	return map[string]string{"X-Api-Key": b.APIKey}
}

func lang(l string) string {
	if l == "" {
		return "en"
	}
	return strings.ToLower(l)
}

func device(d string) string {
	if d == "mobile" {
		return "mobile"
	}
	return "desktop"
}
