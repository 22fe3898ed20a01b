// handlers/routes.go
package handlers

import (
	"github.com/gofiber/fiber/v2"

	"staking-reward-ledger/middleware"
	"staking-reward-ledger/services"
)

// Deps is everything the HTTP surface calls into.
type Deps struct {
	Ledger     services.RewardLedger
	Claims     *services.ClaimService
	Social     *services.SocialGate
	Stream     *services.RewardStreamer
	Tiers      *services.TierEngine
	Staking    *services.StakingService
	Governance *services.GovernanceEngine
	Referrals  *services.ReferralService

	ServiceToken string
	AdminToken   string
}

// Setup mounts every public and admin route on app. Health and metrics
// endpoints are mounted by the caller before this.
func Setup(app *fiber.App, d Deps) {
	// EventSource clients cannot send headers, so the stream authenticates on its own.
	app.Get("/rewards/stream", middleware.StreamAuthMiddleware(d.ServiceToken), middleware.WalletContextMiddleware(), streamRewards(d))

	api := app.Group("", middleware.GatewayAuthMiddleware(d.ServiceToken), middleware.WalletContextMiddleware())
	SetupRewardRoutes(api, d)
	SetupStakingRoutes(api, d)
	SetupGovernanceRoutes(api, d)
	SetupReferralRoutes(api, d)

	admin := api.Group("/admin", middleware.AdminMiddleware(d.AdminToken))
	SetupAdminRoutes(admin, d)
}
