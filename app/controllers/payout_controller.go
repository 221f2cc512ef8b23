package controllers

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/rebooked/marketplace/internal/pkg/payout"
)

type PayoutService interface {
	EnsureRecipient(ctx context.Context, sellerID string) (*payout.RecipientResult, error)
	InitiateTransfer(ctx context.Context, sellerID string) (*payout.TransferResult, error)
}

type PayoutController struct {
	service PayoutService
	timeout time.Duration
}

func NewPayoutController(s PayoutService) *PayoutController {
	return &PayoutController{service: s, timeout: 30 * time.Second}
}

type payoutRequest struct {
	SellerID      string `json:"sellerId"`
	SellerIDSnake string `json:"seller_id"`
}

func parsePayoutRequest(c *fiber.Ctx) (string, error) {
	var in payoutRequest
	if err := json.Unmarshal(c.Body(), &in); err != nil {
		return "", invalidJSON(err)
	}
	id := strings.TrimSpace(in.SellerID)
	if id == "" {
		id = strings.TrimSpace(in.SellerIDSnake)
	}
	if id == "" {
		return "", missingFields("sellerId")
	}
	return id, nil
}

// HandleCreateRecipient returns the seller's payout recipient and breakdown.
func (pc *PayoutController) HandleCreateRecipient(c *fiber.Ctx) error {
	sellerID, err := parsePayoutRequest(c)
	if err != nil {
		return sendError(c, "Payout", err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), pc.timeout)
	defer cancel()

	res, err := pc.service.EnsureRecipient(ctx, sellerID)
	if err != nil {
		return sendError(c, "Payout", err)
	}

	return sendOK(c, fiber.Map{
		"recipient_code":    res.RecipientCode,
		"message":           res.Message,
		"payment_breakdown": res.Breakdown,
		"seller_info":       res.SellerInfo,
	})
}

// HandleInitiateTransfer pays out the seller's delivered orders.
func (pc *PayoutController) HandleInitiateTransfer(c *fiber.Ctx) error {
	sellerID, err := parsePayoutRequest(c)
	if err != nil {
		return sendError(c, "Payout", err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), pc.timeout)
	defer cancel()

	res, err := pc.service.InitiateTransfer(ctx, sellerID)
	if err != nil {
		return sendError(c, "Payout", err)
	}

	return sendOK(c, fiber.Map{"transfer": res})
}
