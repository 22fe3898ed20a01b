// handlers/staking.go
package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"staking-reward-ledger/middleware"
	"staking-reward-ledger/models"
	"staking-reward-ledger/services"
)

type prepareBody struct {
	Wallet     string            `json:"wallet"`
	Mint       string            `json:"mint"`
	LockPeriod models.LockPeriod `json:"lock_period"`
}

func SetupStakingRoutes(r fiber.Router, d Deps) {
	r.Get("/staking/tiers", func(c *fiber.Ctx) error {
		return c.JSON(d.Tiers.View())
	})

	r.Post("/staking/prepare", func(c *fiber.Ctx) error {
		var body prepareBody
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		if !middleware.WalletMatches(c, body.Wallet) {
			return forbidden(c)
		}
		quote, err := d.Staking.Prepare(c.UserContext(), body.Wallet, body.Mint, body.LockPeriod)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(quote)
	})

	r.Post("/staking/confirm", func(c *fiber.Ctx) error {
		var body services.StakeConfirmation
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		if !middleware.WalletMatches(c, body.Wallet) {
			return forbidden(c)
		}
		stake, err := d.Staking.ConfirmStake(c.UserContext(), body)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"stake": stake})
	})

	r.Post("/staking/unstake", func(c *fiber.Ctx) error {
		var body services.UnstakeConfirmation
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		if !middleware.WalletMatches(c, body.Wallet) {
			return forbidden(c)
		}
		stake, err := d.Staking.ConfirmUnstake(c.UserContext(), body)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"stake": stake})
	})

	r.Get("/staking/stakes", func(c *fiber.Ctx) error {
		wallet := strings.TrimSpace(c.Query("wallet"))
		if wallet == "" {
			return badRequest(c, "wallet is required")
		}
		if !middleware.WalletMatches(c, wallet) {
			return forbidden(c)
		}
		stakes, err := d.Staking.ListStakes(c.UserContext(), wallet)
		if err != nil {
			return writeError(c, err)
		}
		if stakes == nil {
			stakes = []models.StakeAccount{}
		}
		return c.JSON(fiber.Map{"stakes": stakes})
	})
}
