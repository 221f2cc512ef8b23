package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/rebooked/marketplace/internal/pkg/apperr"
)

// OutcomeCounter tallies request outcomes by name.
type OutcomeCounter interface {
	Add(ctx context.Context, field string)
}

// sendError renders err as {success:false, error, details}.
func sendError(c *fiber.Ctx, tag string, err error) error {
	status := apperr.HTTPStatus(err)
	if status >= fiber.StatusInternalServerError {
		log.Errorf("[%s] %s %s failed: %v", tag, c.Method(), c.Path(), err)
	} else {
		log.Debugf("[%s] %s %s rejected: %v", tag, c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error":   apperr.Code(err),
		"details": apperr.DetailsOf(err),
	})
}

func sendOK(c *fiber.Ctx, body fiber.Map) error {
	body["success"] = true
	return c.Status(fiber.StatusOK).JSON(body)
}

func invalidJSON(err error) error {
	return apperr.New(apperr.CodeInvalidJSON, fiber.StatusBadRequest, "request body is not valid JSON").Wrap(err)
}

func missingFields(fields ...string) error {
	return apperr.New(apperr.CodeMissingRequiredFields, fiber.StatusBadRequest, "required fields are missing").
		WithDetail("missing_fields", fields)
}
