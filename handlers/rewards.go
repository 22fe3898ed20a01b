// handlers/rewards.go
package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"staking-reward-ledger/middleware"
	"staking-reward-ledger/models"
	"staking-reward-ledger/services"
)

type claimBody struct {
	Wallet string `json:"wallet"`
}

type socialBody struct {
	Wallet      string            `json:"wallet"`
	TxSignature string            `json:"txSignature"`
	ReferenceID string            `json:"reference_id"`
	RewardType  models.RewardType `json:"reward_type"`
	Platform    services.Platform `json:"platform"`
	PostURL     string            `json:"post_url"`
	MessageLink string            `json:"message_link"`
}

func SetupRewardRoutes(r fiber.Router, d Deps) {
	r.Get("/rewards", func(c *fiber.Ctx) error {
		wallet := strings.TrimSpace(c.Query("wallet"))
		if wallet == "" {
			return badRequest(c, "wallet is required")
		}
		if !middleware.WalletMatches(c, wallet) {
			return forbidden(c)
		}
		summary, err := d.Ledger.Summary(c.UserContext(), wallet)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(summary)
	})

	r.Post("/rewards/claim", func(c *fiber.Ctx) error {
		var body claimBody
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		wallet := strings.TrimSpace(body.Wallet)
		if wallet == "" {
			return badRequest(c, "wallet is required")
		}
		if !middleware.WalletMatches(c, wallet) {
			return forbidden(c)
		}
		claim, err := d.Claims.RequestClaim(c.UserContext(), wallet)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"claim": claim})
	})

	r.Get("/rewards/claims/:id", func(c *fiber.Ctx) error {
		claim, err := d.Claims.GetClaim(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		if !middleware.WalletMatches(c, claim.WalletAddress) {
			return forbidden(c)
		}
		return c.JSON(fiber.Map{"claim": claim})
	})

	r.Post("/rewards/social", func(c *fiber.Ctx) error {
		var body socialBody
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		wallet := strings.TrimSpace(body.Wallet)
		if wallet == "" {
			return badRequest(c, "wallet is required")
		}
		if !middleware.WalletMatches(c, wallet) {
			return forbidden(c)
		}
		res, err := d.Social.RecordEngagement(c.UserContext(), services.Engagement{
			Wallet:      wallet,
			ReferenceID: body.ReferenceID,
			Platform:    body.Platform,
			RewardType:  body.RewardType,
			Proof: services.EngagementProof{
				PostURL:     body.PostURL,
				MessageLink: body.MessageLink,
				TxSignature: body.TxSignature,
			},
		})
		if errors.Is(err, services.ErrConflict) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":            "already claimed for this transaction",
				"already_rewarded": true,
			})
		}
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(res)
	})
}

func streamRewards(d Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		wallet := strings.TrimSpace(c.Query("wallet"))
		if wallet == "" {
			return badRequest(c, "wallet is required")
		}
		if !middleware.WalletMatches(c, wallet) {
			return forbidden(c)
		}
		if err := d.Stream.Stream(c, wallet); err != nil {
			return writeError(c, err)
		}
		return nil
	}
}
