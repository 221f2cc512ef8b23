package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/rebooked/marketplace/internal/pkg/apperr"
	"github.com/rebooked/marketplace/internal/pkg/purchase"
)

type PurchaseProcessor interface {
	Process(ctx context.Context, req purchase.Request) (*purchase.Result, error)
}

// PurchaseController handles direct purchase requests
type PurchaseController struct {
	processor PurchaseProcessor
	outcomes  OutcomeCounter
	timeout   time.Duration
}

func NewPurchaseController(p PurchaseProcessor) *PurchaseController {
	return &PurchaseController{processor: p, timeout: 30 * time.Second}
}

func (pc *PurchaseController) WithOutcomeCounter(c OutcomeCounter) *PurchaseController {
	pc.outcomes = c
	return pc
}

func (pc *PurchaseController) count(c *fiber.Ctx, outcome string) {
	if pc.outcomes != nil {
		pc.outcomes.Add(c.UserContext(), outcome)
	}
}

// HandleCreatePurchase records a paid purchase and returns the new order.
func (pc *PurchaseController) HandleCreatePurchase(c *fiber.Ctx) error {
	req, err := purchase.ParseRequest(c.Body())
	if err != nil {
		pc.count(c, apperr.Code(err))
		return sendError(c, "Purchase", err)
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), pc.timeout)
	defer cancel()

	res, err := pc.processor.Process(ctx, req)
	if err != nil {
		pc.count(c, apperr.Code(err))
		return sendError(c, "Purchase", err)
	}

	body := fiber.Map{"order": res.Response()}
	if res.Replayed {
		pc.count(c, "replayed")
		body["message"] = "Order already exists for this payment reference"
	} else {
		pc.count(c, "created")
	}
	return sendOK(c, body)
}
