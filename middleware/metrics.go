// middleware/metrics.go
package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"staking-reward-ledger/metrics"
)

// MetricsMiddleware records latency and status per matched route.
func MetricsMiddleware(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		route := "unmatched"
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		m.ObserveRequest(c.Method(), route, status, time.Since(start))
		return err
	}
}
