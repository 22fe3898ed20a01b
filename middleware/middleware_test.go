package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"staking-reward-ledger/logging"
	"staking-reward-ledger/metrics"
)

func TestMain(m *testing.M) {
	logging.Discard()
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("github.com/valyala/fasthttp.updateServerDate.func1"),
	)
}

func status(t *testing.T, app *fiber.App, req *http.Request) int {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestGatewayAuthMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware("secret"))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "Bearer secret", http.StatusNoContent},
		{"raw", "secret", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			assert.Equal(t, tc.want, status(t, app, req))
		})
	}
}

func TestGatewayAuthRejectsEverythingWithoutToken(t *testing.T) {
	app := fiber.New()
	app.Use(GatewayAuthMiddleware(""))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer ")
	assert.Equal(t, http.StatusUnauthorized, status(t, app, req))
}

func TestStreamAuthAcceptsQueryToken(t *testing.T) {
	app := fiber.New()
	app.Get("/stream", StreamAuthMiddleware("secret"), func(c *fiber.Ctx) error { return c.SendStatus(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, status(t, app, httptest.NewRequest(http.MethodGet, "/stream?token=secret", nil)))
	assert.Equal(t, http.StatusUnauthorized, status(t, app, httptest.NewRequest(http.MethodGet, "/stream?token=nope", nil)))
	assert.Equal(t, http.StatusUnauthorized, status(t, app, httptest.NewRequest(http.MethodGet, "/stream", nil)))
}

func TestWalletMatches(t *testing.T) {
	app := fiber.New()
	app.Use(WalletContextMiddleware())
	app.Get("/:wallet", func(c *fiber.Ctx) error {
		if !WalletMatches(c, c.Params("wallet")) {
			return c.SendStatus(http.StatusForbidden)
		}
		return c.SendStatus(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/walletA", nil)
	assert.Equal(t, http.StatusNoContent, status(t, app, req), "service calls carry no wallet")

	req = httptest.NewRequest(http.MethodGet, "/walletA", nil)
	req.Header.Set(WalletHeader, "walletA")
	assert.Equal(t, http.StatusNoContent, status(t, app, req))

	req = httptest.NewRequest(http.MethodGet, "/walletA", nil)
	req.Header.Set(WalletHeader, "walletB")
	assert.Equal(t, http.StatusForbidden, status(t, app, req))
}

func TestAdminMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(AdminMiddleware("root"))
	app.Post("/", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusCreated) })

	assert.Equal(t, http.StatusForbidden, status(t, app, httptest.NewRequest(http.MethodPost, "/", nil)))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(AdminTokenHeader, "root")
	assert.Equal(t, http.StatusCreated, status(t, app, req))
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	m := metrics.New()
	app := fiber.New()
	app.Use(MetricsMiddleware(m))
	app.Get("/claims/:id", func(c *fiber.Ctx) error { return c.SendStatus(http.StatusOK) })

	status(t, app, httptest.NewRequest(http.MethodGet, "/claims/1", nil))
	status(t, app, httptest.NewRequest(http.MethodGet, "/claims/2", nil))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var series int
	for _, f := range families {
		if f.GetName() != "staking_ledger_http_requests_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			series++
			assert.Equal(t, float64(2), metric.GetCounter().GetValue())
			for _, l := range metric.GetLabel() {
				if l.GetName() == "route" {
					assert.Equal(t, "/claims/:id", l.GetValue())
				}
			}
		}
	}
	assert.Equal(t, 1, series, "one series per route pattern")
}
