// middleware/auth.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"staking-reward-ledger/logging"
)

const (
	WalletHeader     = "X-Wallet-Address"
	AdminTokenHeader = "X-Admin-Token"

	walletLocal = "wallet_address"
)

// WalletContextMiddleware attaches the wallet the Gateway authenticated,
// if any. Handlers compare it with the wallet named in the request.
func WalletContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if wallet := strings.TrimSpace(c.Get(WalletHeader)); wallet != "" {
			c.Locals(walletLocal, wallet)
		}
		return c.Next()
	}
}

// WalletMatches reports whether wallet may be acted on by this request.
// Requests without an authenticated wallet are trusted as service calls.
func WalletMatches(c *fiber.Ctx, wallet string) bool {
	authed, _ := c.Locals(walletLocal).(string)
	return authed == "" || authed == wallet
}

// AdminMiddleware guards operator routes. With no admin token configured
// the routes are closed.
func AdminMiddleware(adminToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !tokenEqual(strings.TrimSpace(c.Get(AdminTokenHeader)), adminToken) {
			logging.Warn("❌ [ADMIN] admin token rejected", "path", c.Path())
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "admin access required",
			})
		}
		return c.Next()
	}
}
