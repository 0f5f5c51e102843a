package bulk_template

import (
	"context"
	"errors"

	"go-crm-bulk/internal/features/bulk_operation"

	"github.com/gofiber/fiber/v2"
)

type TemplateController struct {
	Store       *Store
	BulkService bulk_operation.BulkOperationService
}

func NewTemplateController(store *Store, bulkService bulk_operation.BulkOperationService) *TemplateController {
	return &TemplateController{Store: store, BulkService: bulkService}
}

func (c *TemplateController) ListTemplates(ctx *fiber.Ctx) error {
	return ctx.JSON(c.Store.ListTemplates(ctx.UserContext()))
}

func (c *TemplateController) GetTemplate(ctx *fiber.Ctx) error {
	t, err := c.Store.GetTemplate(ctx.UserContext(), ctx.Params("id"))
	if err != nil {
		return errorResponse(ctx, err)
	}
	return ctx.JSON(t)
}

func (c *TemplateController) CreateTemplate(ctx *fiber.Ctx) error {
	var req CreateTemplateRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	t, err := c.Store.SaveTemplate(ctx.UserContext(), req.Name, req.OperationName, req.Fields, req.Description)
	if err != nil {
		return errorResponse(ctx, err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(t)
}

func (c *TemplateController) DeleteTemplate(ctx *fiber.Ctx) error {
	if err := c.Store.DeleteTemplate(ctx.UserContext(), ctx.Params("id")); err != nil {
		return errorResponse(ctx, err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

// ApplyTemplate applies the template to the records selected by the body.
// It runs in the background unless ?wait=true.
func (c *TemplateController) ApplyTemplate(ctx *fiber.Ctx) error {
	id := ctx.Params("id")
	var target bulk_operation.Target
	if err := ctx.BodyParser(&target); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}
	if _, err := c.Store.GetTemplate(ctx.UserContext(), id); err != nil {
		return errorResponse(ctx, err)
	}

	run := func(runCtx context.Context, items []bulk_operation.Record, sink bulk_operation.ItemUpdateFunc) (*bulk_operation.OperationResult, error) {
		return c.Store.ApplyTemplate(runCtx, id, items, sink)
	}

	if ctx.QueryBool("wait") {
		result, err := c.BulkService.RunOnTarget(ctx.UserContext(), target, run)
		if err != nil && !(errors.Is(err, bulk_operation.ErrOperationCancelled) && result != nil) {
			return errorResponse(ctx, err)
		}
		return ctx.JSON(result)
	}

	if err := c.BulkService.StartOnTarget(ctx.UserContext(), target, run); err != nil {
		return errorResponse(ctx, err)
	}
	return ctx.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Template apply started"})
}

func errorResponse(ctx *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrTemplateNotFound):
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrInvalidTemplate):
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return bulk_operation.ErrorResponse(ctx, err)
}
