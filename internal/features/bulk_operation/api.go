package bulk_operation

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

type BulkOperationApi struct {
	BulkController *BulkOperationController
	ProgressSocket *ProgressSocket
}

func NewBulkOperationApi(bulkController *BulkOperationController, progressSocket *ProgressSocket) *BulkOperationApi {
	return &BulkOperationApi{
		BulkController: bulkController,
		ProgressSocket: progressSocket,
	}
}

func (api *BulkOperationApi) Setup(app *fiber.App) {
	group := app.Group("/api/bulk")

	group.Post("/preview", api.BulkController.PreviewBulkOperation)
	group.Post("/preview/export", api.BulkController.ExportPreview)
	group.Post("/operations", api.BulkController.CreateBulkOperation)
	group.Get("/operations", api.BulkController.ListBulkOperations)
	group.Get("/operations/:id", api.BulkController.GetBulkOperation)
	group.Post("/operations/:id/retry", api.BulkController.RetryBulkOperation)
	group.Post("/operations/:id/undo", api.BulkController.UndoBulkOperation)
	group.Get("/operations/:id/logs", api.BulkController.GetOperationLogs)
	group.Post("/cancel", api.BulkController.CancelBulkOperation)
	group.Get("/progress", api.BulkController.GetProgress)
	group.Get("/errors", api.BulkController.GetErrors)
	group.Get("/errors/export", api.BulkController.ExportErrors)

	group.Use("/ws", api.ProgressSocket.Upgrade)
	group.Get("/ws", websocket.New(api.ProgressSocket.Handle))
}
