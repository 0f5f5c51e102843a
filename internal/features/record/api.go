package record

import (
	"github.com/gofiber/fiber/v2"
)

type RecordApi struct {
	recordController *RecordController
}

func NewRecordApi(recordController *RecordController) *RecordApi {
	return &RecordApi{
		recordController: recordController,
	}
}

// Setup registers record-related routes
func (h *RecordApi) Setup(app *fiber.App) {
	records := app.Group("/api/records")

	records.Get("/:name", h.recordController.ListRecords)
	records.Post("/:name/lookup", h.recordController.LookupRecords)
}
