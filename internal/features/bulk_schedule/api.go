package bulk_schedule

import (
	"github.com/gofiber/fiber/v2"
)

type ScheduleApi struct {
	controller *ScheduleController
}

func NewScheduleApi(controller *ScheduleController) *ScheduleApi {
	return &ScheduleApi{controller: controller}
}

func (api *ScheduleApi) Setup(app *fiber.App) {
	schedules := app.Group("/api/bulk/schedules")

	schedules.Get("/", api.controller.ListSchedules)
	schedules.Post("/", api.controller.CreateSchedule)
	schedules.Get("/:id", api.controller.GetSchedule)
	schedules.Delete("/:id", api.controller.DeleteSchedule)
	schedules.Post("/:id/enable", api.controller.EnableSchedule)
	schedules.Post("/:id/disable", api.controller.DisableSchedule)
	schedules.Post("/:id/run", api.controller.RunSchedule)
}
