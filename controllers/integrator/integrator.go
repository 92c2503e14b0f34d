package integrator

import (
	"errors"
	"strings"

	"seamless/credentials"
	"seamless/helpers"
	"seamless/models"
	"seamless/providers"
	"seamless/repository"
	"seamless/validation"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Handler struct {
	registry *providers.Registry
	env      string
	log      *zap.Logger
}

func New(registry *providers.Registry, environment string, log *zap.Logger) *Handler {
	return &Handler{registry: registry, env: environment, log: log}
}

// Play registers the player with the provider if needed and returns a game
// launch URL.
func (h *Handler) Play(c *fiber.Ctx) error {
	m, ok := h.registry.GetProvider(c.Params("provider"))
	if !ok {
		return helpers.JSONError(c, helpers.CodeNotFound, "UNSUPPORTED_PROVIDER")
	}

	var req providers.LaunchRequest
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, helpers.CodeInvalidRequest, "INVALID_JSON")
	}
	if err := validation.Struct(req); err != nil {
		return helpers.JSONError(c, helpers.CodeInvalidRequest, err.Error())
	}
	req.Currency = strings.ToUpper(req.Currency)

	bundle, err := m.Credentials.Resolve(h.env, req.Currency)
	if errors.Is(err, credentials.ErrInvalidCurrency) {
		return helpers.JSONError(c, helpers.CodeInvalidCurrency, "INVALID_CURRENCY")
	}
	if err != nil {
		return h.internal(c, m.Name, "resolve credentials", err)
	}

	ctx := c.UserContext()
	player, err := m.Repo.UpsertPlayer(ctx, &models.Player{
		PlayID:   req.PlayID,
		Username: req.Username,
		Currency: req.Currency,
		GameCode: req.GameID,
	})
	if err != nil {
		return h.internal(c, m.Name, "upsert player", err)
	}
	if player.Currency != req.Currency {
		return helpers.JSONError(c, helpers.CodeInvalidCurrency, "CURRENCY_MISMATCH")
	}

	launch, err := m.Launcher.Play(ctx, req, player, bundle)
	if err != nil {
		return h.providerError(c, m.Name, "play", err)
	}
	if launch.SessionToken != "" {
		if err := m.Repo.UpdateSessionToken(ctx, player.PlayID, launch.SessionToken); err != nil {
			return h.internal(c, m.Name, "store session token", err)
		}
	}

	h.log.Info("[Launch] game launched",
		zap.String("provider", m.Name),
		zap.String("play_id", player.PlayID),
		zap.String("game_id", req.GameID),
	)
	return helpers.JSONSuccess(c, launch.URL)
}

// Visual returns the provider's replay URL for one bet of an existing
// player.
func (h *Handler) Visual(c *fiber.Ctx) error {
	m, ok := h.registry.GetProvider(c.Params("provider"))
	if !ok {
		return helpers.JSONError(c, helpers.CodeNotFound, "UNSUPPORTED_PROVIDER")
	}

	var req providers.VisualRequest
	if err := c.BodyParser(&req); err != nil {
		return helpers.JSONError(c, helpers.CodeInvalidRequest, "INVALID_JSON")
	}
	if err := validation.Struct(req); err != nil {
		return helpers.JSONError(c, helpers.CodeInvalidRequest, err.Error())
	}

	bundle, err := m.Credentials.Resolve(h.env, req.Currency)
	if errors.Is(err, credentials.ErrInvalidCurrency) {
		return helpers.JSONError(c, helpers.CodeInvalidCurrency, "INVALID_CURRENCY")
	}
	if err != nil {
		return h.internal(c, m.Name, "resolve credentials", err)
	}

	ctx := c.UserContext()
	player, err := m.Repo.FindPlayer(ctx, req.PlayID)
	if errors.Is(err, repository.ErrNotFound) {
		return helpers.JSONError(c, helpers.CodeNotFound, "PLAYER_NOT_FOUND")
	}
	if err != nil {
		return h.internal(c, m.Name, "find player", err)
	}

	u, err := m.Launcher.Visual(ctx, req, player, bundle)
	if err != nil {
		return h.providerError(c, m.Name, "visual", err)
	}
	return helpers.JSONSuccess(c, u)
}

func (h *Handler) providerError(c *fiber.Ctx, provider, op string, err error) error {
	if errors.Is(err, providers.ErrThirdPartyAPI) {
		h.log.Warn("[Launch] provider api failed", zap.String("provider", provider), zap.String("op", op), zap.Error(err))
		return helpers.JSONError(c, helpers.CodeThirdPartyAPI, "THIRD_PARTY_API_ERROR")
	}
	return h.internal(c, provider, op, err)
}

func (h *Handler) internal(c *fiber.Ctx, provider, op string, err error) error {
	h.log.Error("[Launch] internal error", zap.String("provider", provider), zap.String("op", op), zap.Error(err))
	return helpers.JSONError(c, helpers.CodeInternal, "INTERNAL_ERROR")
}
