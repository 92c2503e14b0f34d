package middlewares

import (
	"crypto/subtle"
	"strings"

	"seamless/helpers"

	"github.com/gofiber/fiber/v2"
)

// IntegratorAuth admits requests carrying "Authorization: Bearer <token>".
func IntegratorAuth(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !ok || token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return helpers.JSONError(c, helpers.CodeUnauthorized, "UNAUTHORIZED")
		}
		return c.Next()
	}
}
