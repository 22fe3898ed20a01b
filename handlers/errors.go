// handlers/errors.go
package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"staking-reward-ledger/chain"
	"staking-reward-ledger/logging"
	"staking-reward-ledger/services"
)

var clientErrors = []struct {
	err  error
	code string
}{
	{services.ErrValidation, "validation"},
	{services.ErrInvalidProof, "invalid_proof"},
	{services.ErrConflict, "conflict"},
	{services.ErrEmptyClaim, "empty_claim"},
	{services.ErrClaimState, "claim_state"},
	{services.ErrAlreadyVoted, "already_voted"},
	{services.ErrIneligible, "ineligible"},
	{services.ErrWindowClosed, "window_closed"},
	{services.ErrUnclassifiable, "unclassifiable"},
}

// writeError maps a service error onto a status and JSON body. Anything
// unrecognised is a store or programming failure and its detail stays in
// the log.
func writeError(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error(), "code": "not_found"})
	}
	for _, ce := range clientErrors {
		if errors.Is(err, ce.err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "code": ce.code})
		}
	}

	var chainErr *chain.Error
	if errors.As(err, &chainErr) {
		status := fiber.StatusBadRequest
		if chainErr.Outcome == chain.Retryable {
			status = fiber.StatusServiceUnavailable
		}
		if chainErr.Outcome == chain.Fatal {
			logging.Error("chain call rejected", "path", c.Path(), logging.Err(err))
		}
		return c.Status(status).JSON(fiber.Map{
			"error":   chainErr.Message,
			"code":    chainErr.Kind,
			"outcome": chainErr.Outcome,
		})
	}

	logging.Error("request failed", "method", c.Method(), "path", c.Path(), logging.Err(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg, "code": "validation"})
}

func forbidden(c *fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "wallet does not match the authenticated wallet"})
}
