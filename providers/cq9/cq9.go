// Package cq9 launches games on CQ9.
package cq9

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"seamless/credentials"
	"seamless/models"
	"seamless/providers"
)

const (
	Name     = "cq9"
	GameHall = "cq9"
)

var Currencies = []string{"IDR", "THB", "VND", "USD"}

func LoadCredentials() (credentials.Table, error) {
	return credentials.Load(Name, Currencies...)
}

// Status is the nested status block of every CQ9 envelope.
type Status struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	DateTime  string `json:"dateTime"`
	TraceCode string `json:"traceCode,omitempty"`
}

type urlResponse struct {
	Data struct {
		URL   string `json:"url"`
		Token string `json:"token"`
	} `json:"data"`
	Status Status `json:"status"`
}

type Launcher struct {
	api *providers.API
}

var _ providers.Launcher = (*Launcher)(nil)

func NewLauncher(api *providers.API) *Launcher {
	return &Launcher{api: api}
}

func (l *Launcher) Play(ctx context.Context, req providers.LaunchRequest, player *models.Player, b credentials.Bundle) (providers.Launch, error) {
	form := url.Values{}
	form.Set("account", player.PlayID)
	form.Set("gamehall", GameHall)
	form.Set("gamecode", req.GameID)
	form.Set("gameplat", gamePlat(req.Device))
	form.Set("lang", lang(req.Language))
	if req.Host != "" {
		form.Set("app", "N")
		form.Set("detect", "N")
	}

	var resp urlResponse
	if err := l.api.PostForm(ctx, b.APIURL+"/gameboy/player/sw/gamelink", headers(b), form, &resp); err != nil {
		return providers.Launch{}, err
	}
	if resp.Status.Code != "0" || resp.Data.URL == "" {
		return providers.Launch{}, fmt.Errorf("%w: cq9 gamelink: %s %s", providers.ErrThirdPartyAPI, resp.Status.Code, resp.Status.Message)
	}
	return providers.Launch{URL: resp.Data.URL, SessionToken: resp.Data.Token}, nil
}

func (l *Launcher) Visual(ctx context.Context, req providers.VisualRequest, _ *models.Player, b credentials.Bundle) (string, error) {
	endpoint := b.APIURL + "/gameboy/order/view?" + url.Values{"roundid": {req.BetID}}.Encode()

	var resp urlResponse
	if err := l.api.Get(ctx, endpoint, headers(b), &resp); err != nil {
		return "", err
	}
	if resp.Status.Code != "0" || resp.Data.URL == "" {
		return "", fmt.Errorf("%w: cq9 order view: %s %s", providers.ErrThirdPartyAPI, resp.Status.Code, resp.Status.Message)
	}
	return resp.Data.URL, nil
}

func headers(b credentials.Bundle) map[string]string {
	return map[string]string{"Authorization": b.APIKey}
}

func gamePlat(device string) string {
	if device == "mobile" {
		return "mobile"
	}
	return "web"
}

func lang(l string) string {
	switch strings.ToLower(l) {
	case "", "en":
		return "en"
	case "zh", "cn":
		return "zh-cn"
	default:
		return strings.ToLower(l)
	}
}
