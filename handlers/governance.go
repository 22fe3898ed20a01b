// handlers/governance.go
package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"staking-reward-ledger/middleware"
	"staking-reward-ledger/models"
	"staking-reward-ledger/services"
)

const (
	defaultProposalLimit = 50
	maxProposalLimit     = 200
)

type voteBody struct {
	Wallet string            `json:"wallet"`
	Choice models.VoteChoice `json:"choice"`
}

func SetupGovernanceRoutes(r fiber.Router, d Deps) {
	r.Get("/governance/power", func(c *fiber.Ctx) error {
		wallet := strings.TrimSpace(c.Query("wallet"))
		if wallet == "" {
			return badRequest(c, "wallet is required")
		}
		if !middleware.WalletMatches(c, wallet) {
			return forbidden(c)
		}
		power, err := d.Governance.VotingPower(c.UserContext(), wallet)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"wallet": wallet, "voting_power": power})
	})

	r.Get("/governance/proposals", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", defaultProposalLimit)
		if limit <= 0 || limit > maxProposalLimit {
			limit = defaultProposalLimit
		}
		proposals, err := d.Governance.ListProposals(c.UserContext(), limit)
		if err != nil {
			return writeError(c, err)
		}
		if proposals == nil {
			proposals = []models.GovernanceProposal{}
		}
		return c.JSON(fiber.Map{"proposals": proposals})
	})

	r.Get("/governance/proposals/:id", func(c *fiber.Ctx) error {
		p, err := d.Governance.GetProposal(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(fiber.Map{"proposal": p})
	})

	r.Get("/governance/proposals/:id/eligibility", func(c *fiber.Ctx) error {
		wallet := strings.TrimSpace(c.Query("wallet"))
		if wallet == "" {
			return badRequest(c, "wallet is required")
		}
		if !middleware.WalletMatches(c, wallet) {
			return forbidden(c)
		}
		el, err := d.Governance.CanVote(c.UserContext(), wallet, c.Params("id"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(el)
	})

	r.Post("/governance/proposals/:id/votes", func(c *fiber.Ctx) error {
		var body voteBody
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		if !middleware.WalletMatches(c, body.Wallet) {
			return forbidden(c)
		}
		receipt, err := d.Governance.CastVote(c.UserContext(), body.Wallet, c.Params("id"), body.Choice)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(receipt)
	})
}

// SetupAdminRoutes mounts operator endpoints; r is already behind the
// admin token check.
func SetupAdminRoutes(r fiber.Router, d Deps) {
	r.Post("/governance/proposals", func(c *fiber.Ctx) error {
		var body services.ProposalInput
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid request body")
		}
		p, err := d.Governance.CreateProposal(c.UserContext(), body)
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"proposal": p})
	})
}
