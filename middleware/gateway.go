// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"staking-reward-ledger/logging"
)

// GatewayAuthMiddleware validates the Bearer token from the Gateway.
func GatewayAuthMiddleware(expectedToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			logging.Warn("🚫 [GATEWAY_AUTH] Missing Authorization header", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}
		if !tokenEqual(token, expectedToken) {
			logging.Warn("❌ [GATEWAY_AUTH] Invalid token", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}
		return c.Next()
	}
}

// StreamAuthMiddleware is GatewayAuthMiddleware for EventSource clients,
// which cannot set headers: the token may also arrive as ?token=.
func StreamAuthMiddleware(expectedToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" || !tokenEqual(token, expectedToken) {
			logging.Warn("[STREAM_AUTH] rejected stream request", "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}
		return c.Next()
	}
}

// bearerToken parses "Bearer <token>"; a raw value is accepted as well.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return header
}

func tokenEqual(got, want string) bool {
	return want != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
