package integrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"seamless/config"
	"seamless/credentials"
	"seamless/database"
	"seamless/helpers"
	"seamless/models"
	"seamless/providers"
	"seamless/repository"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubLauncher struct {
	err   error
	token string
}

func (s *stubLauncher) Play(_ context.Context, req providers.LaunchRequest, p *models.Player, b credentials.Bundle) (providers.Launch, error) {
	if s.err != nil {
		return providers.Launch{}, s.err
	}
	return providers.Launch{URL: fmt.Sprintf("%s/play/%s/%s", b.APIURL, p.PlayID, req.GameID), SessionToken: s.token}, nil
}

func (s *stubLauncher) Visual(_ context.Context, req providers.VisualRequest, p *models.Player, b credentials.Bundle) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("%s/replay/%s/%s", b.APIURL, p.PlayID, req.BetID), nil
}

type fixture struct {
	app      *fiber.App
	repo     *repository.GormRepository
	launcher *stubLauncher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_").Replace(t.Name())
	db, err := database.Connect(config.DBConfig{
		Driver:      "sqlite",
		Name:        "file:" + name + "?mode=memory&cache=shared",
		AutoMigrate: true,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	f := &fixture{repo: repository.New(db, "aix"), launcher: &stubLauncher{token: "sess-1"}}
	reg := providers.NewRegistry()
	reg.RegisterProvider(providers.Module{
		Name: "aix",
		Credentials: credentials.Table{
			Production: map[string]credentials.Bundle{
				"IDR": {Currency: "IDR", APIURL: "https://idr.aix"},
				"THB": {Currency: "THB", APIURL: "https://thb.aix"},
			},
		},
		Repo:     f.repo,
		Launcher: f.launcher,
	})

	h := New(reg, credentials.EnvProduction, zap.NewNop())
	f.app = fiber.New()
	f.app.Post("/api/:provider/play", h.Play)
	f.app.Post("/api/:provider/visual", h.Visual)
	return f
}

func (f *fixture) post(t *testing.T, path, body string) (int, helpers.Envelope) {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env helpers.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

const playBody = `{"playID":"p1","username":"alice","currency":"idr","gameID":"g1"}`

func TestPlay(t *testing.T) {
	f := newFixture(t)

	status, env := f.post(t, "/api/AIX/play", playBody)
	require.Equal(t, 200, status)
	assert.True(t, env.Success)
	assert.Equal(t, helpers.CodeOK, env.Code)
	require.NotNil(t, env.Data)
	assert.Equal(t, "https://idr.aix/play/p1/g1", *env.Data)
	assert.Nil(t, env.Error)

	p, err := f.repo.FindPlayer(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "IDR", p.Currency)
	assert.Equal(t, "sess-1", p.SessionToken)

	// a relaunch reuses the stored player
	status, _ = f.post(t, "/api/aix/play", playBody)
	assert.Equal(t, 200, status)
}

func TestPlayRejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		msg    string
	}{
		{"unknown provider", "/api/pragmatic/play", playBody, 404, "UNSUPPORTED_PROVIDER"},
		{"bad json", "/api/aix/play", `{"playID":`, 400, "INVALID_JSON"},
		{"missing game", "/api/aix/play", `{"playID":"p1","username":"a","currency":"IDR"}`, 400, "gameID"},
		{"unknown currency", "/api/aix/play", `{"playID":"p1","username":"a","currency":"EUR","gameID":"g"}`, 422, "INVALID_CURRENCY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := f.post(t, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			assert.False(t, env.Success)
			assert.Equal(t, tt.status, env.Code)
			require.NotNil(t, env.Error)
			assert.Contains(t, *env.Error, tt.msg)
		})
	}
}

func TestPlayCurrencyMismatch(t *testing.T) {
	f := newFixture(t)

	status, _ := f.post(t, "/api/aix/play", playBody)
	require.Equal(t, 200, status)

	status, env := f.post(t, "/api/aix/play", `{"playID":"p1","username":"alice","currency":"THB","gameID":"g1"}`)
	assert.Equal(t, 422, status)
	assert.Equal(t, "CURRENCY_MISMATCH", *env.Error)
}

func TestPlayProviderFailure(t *testing.T) {
	f := newFixture(t)

	f.launcher.err = fmt.Errorf("%w: timeout", providers.ErrThirdPartyAPI)
	status, env := f.post(t, "/api/aix/play", playBody)
	assert.Equal(t, 502, status)
	assert.Equal(t, "THIRD_PARTY_API_ERROR", *env.Error)

	f.launcher.err = assert.AnError
	status, env = f.post(t, "/api/aix/play", playBody)
	assert.Equal(t, 500, status)
	assert.Equal(t, "INTERNAL_ERROR", *env.Error)
}

func TestVisual(t *testing.T) {
	f := newFixture(t)

	status, env := f.post(t, "/api/aix/visual", `{"playID":"p1","betID":"b1","currency":"IDR"}`)
	assert.Equal(t, 404, status)
	assert.Equal(t, "PLAYER_NOT_FOUND", *env.Error)

	status, _ = f.post(t, "/api/aix/play", playBody)
	require.Equal(t, 200, status)

	status, env = f.post(t, "/api/aix/visual", `{"playID":"p1","betID":"b1","currency":"IDR"}`)
	require.Equal(t, 200, status)
	assert.Equal(t, "https://idr.aix/replay/p1/b1", *env.Data)
}
