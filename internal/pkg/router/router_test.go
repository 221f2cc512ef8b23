package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebooked/marketplace/app/controllers"
	"github.com/rebooked/marketplace/internal/pkg/middleware"
)

func newTestApp(opts Options) *fiber.App {
	opts.Purchase = controllers.NewPurchaseController(nil)
	opts.Webhook = controllers.NewWebhookController(nil)
	opts.Order = controllers.NewOrderController(nil)
	opts.Payout = controllers.NewPayoutController(nil)
	opts.AdminQueue = controllers.NewAdminQueueController(nil, nil, nil)

	app := fiber.New()
	InstallRouter(app, opts)
	return app
}

func send(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestApiRoot(t *testing.T) {
	app := newTestApp(Options{})
	assert.Equal(t, http.StatusOK, send(t, app, http.MethodGet, "/api", "", nil))
}

func TestPurchaseRateLimit(t *testing.T) {
	app := newTestApp(Options{RateLimit: 2})

	// Malformed bodies are rejected before any service call.
	assert.Equal(t, http.StatusBadRequest, send(t, app, http.MethodPost, "/api/v1/purchases", "{", nil))
	assert.Equal(t, http.StatusBadRequest, send(t, app, http.MethodPost, "/api/v1/purchases", "{", nil))
	assert.Equal(t, http.StatusTooManyRequests, send(t, app, http.MethodPost, "/api/v1/purchases", "{", nil))
}

func TestCourierCallbackIsNotRateLimited(t *testing.T) {
	app := newTestApp(Options{RateLimit: 1, ServiceToken: "tok"})

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusBadRequest,
			send(t, app, http.MethodPost, "/api/v1/orders/o1/delivery", `{}`, map[string]string{middleware.ServiceTokenHeader: "tok"}))
	}
}

func TestDeliveryRequiresServiceToken(t *testing.T) {
	app := newTestApp(Options{ServiceToken: "tok"})

	assert.Equal(t, http.StatusUnauthorized, send(t, app, http.MethodPost, "/api/v1/orders/o1/delivery", `{}`, nil))
	// Authorised, then rejected for the missing status field.
	assert.Equal(t, http.StatusBadRequest,
		send(t, app, http.MethodPost, "/api/v1/orders/o1/delivery", `{}`, map[string]string{middleware.ServiceTokenHeader: "tok"}))
}

func TestAdminRoutes(t *testing.T) {
	disabled := newTestApp(Options{})
	assert.Equal(t, http.StatusServiceUnavailable, send(t, disabled, http.MethodGet, "/admin/jobs/stats", "", nil))

	app := newTestApp(Options{AdminUsers: map[string]string{"ops": "pw"}})
	assert.Equal(t, http.StatusUnauthorized, send(t, app, http.MethodGet, "/admin/jobs/stats", "", nil))

	// Authorised; no job queue is wired in this app.
	assert.Equal(t, http.StatusServiceUnavailable,
		send(t, app, http.MethodGet, "/admin/jobs/stats", "", map[string]string{fiber.HeaderAuthorization: "Basic b3BzOnB3"}))
}
