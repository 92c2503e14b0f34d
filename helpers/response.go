package helpers

import (
	"github.com/gofiber/fiber/v2"
)

// Integrator envelope codes.
const (
	CodeOK              = 0
	CodeInvalidRequest  = fiber.StatusBadRequest
	CodeUnauthorized    = fiber.StatusUnauthorized
	CodeNotFound        = fiber.StatusNotFound
	CodeInvalidCurrency = fiber.StatusUnprocessableEntity
	CodeInternal        = fiber.StatusInternalServerError
	CodeThirdPartyAPI   = fiber.StatusBadGateway
)

// Envelope is the response body of every integrator endpoint.
type Envelope struct {
	Success bool    `json:"success"`
	Code    int     `json:"code"`
	Data    *string `json:"data"`
	Error   *string `json:"error"`
}

func JSONSuccess(c *fiber.Ctx, data string) error {
	return c.Status(fiber.StatusOK).JSON(Envelope{
		Success: true,
		Code:    CodeOK,
		Data:    &data,
	})
}

// JSONError answers with code as both the envelope code and the HTTP status.
func JSONError(c *fiber.Ctx, code int, message string) error {
	return c.Status(code).JSON(Envelope{
		Success: false,
		Code:    code,
		Error:   &message,
	})
}
