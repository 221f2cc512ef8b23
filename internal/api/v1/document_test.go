package apiv1_test

import (
	"context"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebooked/marketplace/app/controllers"
	apiv1 "github.com/rebooked/marketplace/internal/api/v1"
	"github.com/rebooked/marketplace/internal/pkg/router"
)

func loadDocument(t *testing.T) *openapi3.T {
	t.Helper()
	path := apiv1.FindDocument()
	require.NotEmpty(t, path, "openapi document not found")
	doc, err := apiv1.Load(context.Background(), path)
	require.NoError(t, err)
	return doc
}

func TestLoad_DocumentIsValid(t *testing.T) {
	doc := loadDocument(t)
	assert.Equal(t, "3.0.3", doc.OpenAPI)

	op := doc.Paths.Find("/api/v1/purchases").GetOperation("POST")
	require.NotNil(t, op)
	schema := op.RequestBody.Value.Content.Get("application/json").Schema.Value
	assert.ElementsMatch(t, []string{"book_id", "buyer_id", "seller_id", "amount", "payment_reference"}, schema.Required)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := apiv1.Load(context.Background(), "does-not-exist.yml")
	assert.Error(t, err)
}

func TestEveryRouteIsDocumented(t *testing.T) {
	doc := loadDocument(t)

	app := fiber.New()
	router.InstallRouter(app, router.Options{
		Purchase:   controllers.NewPurchaseController(nil),
		Webhook:    controllers.NewWebhookController(nil),
		Order:      controllers.NewOrderController(nil),
		Payout:     controllers.NewPayoutController(nil),
		AdminQueue: controllers.NewAdminQueueController(nil, nil, nil),
	})

	var routes []apiv1.Route
	for _, r := range app.GetRoutes(true) {
		if r.Method == fiber.MethodHead {
			continue
		}
		routes = append(routes, apiv1.Route{Method: r.Method, Path: r.Path})
	}
	require.NotEmpty(t, routes)
	assert.Empty(t, apiv1.Undocumented(doc, routes))
}

func TestUndocumented(t *testing.T) {
	doc := loadDocument(t)

	missing := apiv1.Undocumented(doc, []apiv1.Route{
		{Method: "post", Path: "/api/v1/orders/:id/commit"},
		{Method: "GET", Path: "/api/v1/orders/:id/commit"},
		{Method: "DELETE", Path: "/api/v1/books/:id"},
	})
	assert.Equal(t, []string{"DELETE /api/v1/books/:id", "GET /api/v1/orders/:id/commit"}, missing)
}
