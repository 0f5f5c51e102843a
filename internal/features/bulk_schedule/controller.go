package bulk_schedule

import (
	"errors"

	"go-crm-bulk/internal/features/bulk_operation"

	"github.com/gofiber/fiber/v2"
)

type ScheduleController struct {
	Service ScheduleService
}

func NewScheduleController(service ScheduleService) *ScheduleController {
	return &ScheduleController{
		Service: service,
	}
}

func (c *ScheduleController) CreateSchedule(ctx *fiber.Ctx) error {
	schedule := Schedule{Enabled: true}
	if err := ctx.BodyParser(&schedule); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := c.Service.CreateSchedule(ctx.UserContext(), &schedule); err != nil {
		return errorResponse(ctx, err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(schedule)
}

func (c *ScheduleController) ListSchedules(ctx *fiber.Ctx) error {
	filter := make(map[string]any)
	if enabled := ctx.Query("enabled"); enabled != "" {
		filter["enabled"] = enabled == "true"
	}
	if module := ctx.Query("module_name"); module != "" {
		filter["module_name"] = module
	}

	schedules, err := c.Service.ListSchedules(ctx.UserContext(), filter)
	if err != nil {
		return errorResponse(ctx, err)
	}
	return ctx.JSON(schedules)
}

func (c *ScheduleController) GetSchedule(ctx *fiber.Ctx) error {
	schedule, err := c.Service.GetSchedule(ctx.UserContext(), ctx.Params("id"))
	if err != nil {
		return errorResponse(ctx, err)
	}
	return ctx.JSON(schedule)
}

func (c *ScheduleController) EnableSchedule(ctx *fiber.Ctx) error {
	return c.setEnabled(ctx, true)
}

func (c *ScheduleController) DisableSchedule(ctx *fiber.Ctx) error {
	return c.setEnabled(ctx, false)
}

func (c *ScheduleController) setEnabled(ctx *fiber.Ctx, enabled bool) error {
	if err := c.Service.SetEnabled(ctx.UserContext(), ctx.Params("id"), enabled); err != nil {
		return errorResponse(ctx, err)
	}
	return ctx.JSON(fiber.Map{"enabled": enabled})
}

func (c *ScheduleController) DeleteSchedule(ctx *fiber.Ctx) error {
	if err := c.Service.DeleteSchedule(ctx.UserContext(), ctx.Params("id")); err != nil {
		return errorResponse(ctx, err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

// RunSchedule runs the schedule now and responds with the run summary.
func (c *ScheduleController) RunSchedule(ctx *fiber.Ctx) error {
	summary, err := c.Service.RunSchedule(ctx.UserContext(), ctx.Params("id"))
	if err != nil {
		return errorResponse(ctx, err)
	}
	return ctx.JSON(summary)
}

func errorResponse(ctx *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrScheduleNotFound):
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrInvalidSchedule):
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return bulk_operation.ErrorResponse(ctx, err)
}
