// handlers/referrals.go
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"staking-reward-ledger/middleware"
)

type referralBody struct {
	Wallet   string `json:"wallet"`
	Referrer string `json:"referrer"`
}

func SetupReferralRoutes(r fiber.Router, d Deps) {
	r.Post("/referrals", func(c *fiber.Ctx) error {
		var body referralBody
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		if !middleware.WalletMatches(c, body.Wallet) {
			return forbidden(c)
		}
		ref, err := d.Referrals.Register(c.UserContext(), body.Wallet, body.Referrer)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"referral": ref})
	})
}
