package controllers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/rebooked/marketplace/app/models"
	"github.com/rebooked/marketplace/internal/pkg/commitment"
)

type CommitmentService interface {
	Commit(ctx context.Context, orderID, sellerID string) (*commitment.CommitResult, error)
	Decline(ctx context.Context, orderID, sellerID, reason string) (*commitment.DeclineResult, error)
	RecordDelivery(ctx context.Context, orderID string, ev commitment.DeliveryEvent) (*models.Order, error)
}

// OrderController handles seller actions and courier updates on orders
type OrderController struct {
	service CommitmentService
	timeout time.Duration
}

func NewOrderController(s CommitmentService) *OrderController {
	return &OrderController{service: s, timeout: 45 * time.Second}
}

type sellerAction struct {
	SellerID       string `json:"seller_id"`
	LegacySellerID string `json:"sellerId"`
	Reason         string `json:"reason"`
}

func (a sellerAction) seller() string {
	if a.SellerID != "" {
		return strings.TrimSpace(a.SellerID)
	}
	return strings.TrimSpace(a.LegacySellerID)
}

func parseSellerAction(c *fiber.Ctx) (sellerAction, error) {
	var in sellerAction
	if err := json.Unmarshal(c.Body(), &in); err != nil {
		return in, invalidJSON(err)
	}
	if in.seller() == "" {
		return in, missingFields("seller_id")
	}
	return in, nil
}

// HandleCommit accepts a pending sale.
func (oc *OrderController) HandleCommit(c *fiber.Ctx) error {
	in, err := parseSellerAction(c)
	if err != nil {
		return sendError(c, "Commit", err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), oc.timeout)
	defer cancel()

	res, err := oc.service.Commit(ctx, c.Params("id"), in.seller())
	if err != nil {
		return sendError(c, "Commit", err)
	}

	return sendOK(c, fiber.Map{
		"message":     "Order committed",
		"order_id":    res.Order.ID,
		"status":      res.Order.Status,
		"path":        res.Path,
		"emails_sent": res.EmailsSent,
	})
}

// HandleDecline rejects a pending sale and starts the refund.
func (oc *OrderController) HandleDecline(c *fiber.Ctx) error {
	in, err := parseSellerAction(c)
	if err != nil {
		return sendError(c, "Decline", err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), oc.timeout)
	defer cancel()

	res, err := oc.service.Decline(ctx, c.Params("id"), in.seller(), strings.TrimSpace(in.Reason))
	if err != nil {
		return sendError(c, "Decline", err)
	}

	return sendOK(c, fiber.Map{
		"message":       "Order declined",
		"order_id":      res.Order.ID,
		"status":        res.Order.Status,
		"emails_sent":   res.EmailsSent,
		"refund_queued": res.RefundQueued,
		"book_relisted": res.BookRelisted,
	})
}

// HandleDelivery records a courier progress event.
func (oc *OrderController) HandleDelivery(c *fiber.Ctx) error {
	var ev commitment.DeliveryEvent
	if err := json.Unmarshal(c.Body(), &ev); err != nil {
		return sendError(c, "Delivery", invalidJSON(err))
	}
	if ev.Status == "" {
		return sendError(c, "Delivery", missingFields("status"))
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), oc.timeout)
	defer cancel()

	order, err := oc.service.RecordDelivery(ctx, c.Params("id"), ev)
	if err != nil {
		return sendError(c, "Delivery", err)
	}

	return sendOK(c, fiber.Map{
		"order_id":        order.ID,
		"status":          order.Status,
		"delivery_status": order.DeliveryStatus,
	})
}
