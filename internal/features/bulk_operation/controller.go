package bulk_operation

import (
	"errors"
	"fmt"
	"time"

	"go-crm-bulk/internal/features/record"

	"github.com/gofiber/fiber/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type BulkOperationController struct {
	BulkService BulkOperationService
}

func NewBulkOperationController(bulkService BulkOperationService) *BulkOperationController {
	return &BulkOperationController{
		BulkService: bulkService,
	}
}

type previewRequest struct {
	Target
	Updates []UpdateSpec `json:"updates"`
}

func (c *BulkOperationController) PreviewBulkOperation(ctx *fiber.Ctx) error {
	var req previewRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	entries, summary, err := c.BulkService.Preview(ctx.UserContext(), req.Target, req.Updates)
	if err != nil {
		return ErrorResponse(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"entries": entries,
		"summary": summary,
	})
}

func (c *BulkOperationController) ExportPreview(ctx *fiber.Ctx) error {
	var req previewRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	entries, _, err := c.BulkService.Preview(ctx.UserContext(), req.Target, req.Updates)
	if err != nil {
		return ErrorResponse(ctx, err)
	}

	data, err := ExportPreview(entries)
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate export"})
	}
	return sendWorkbook(ctx, "bulk_preview", data)
}

// CreateBulkOperation starts a run in the background. With ?wait=true it
// runs inline and responds with the result.
func (c *BulkOperationController) CreateBulkOperation(ctx *fiber.Ctx) error {
	opts := DefaultOptions()
	opts.ChunkSize = 0
	req := ExecuteRequest{Options: &opts}
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	if ctx.QueryBool("wait") {
		result, err := c.BulkService.Execute(ctx.UserContext(), req)
		return resultResponse(ctx, result, err)
	}

	if err := c.BulkService.Start(ctx.UserContext(), req); err != nil {
		return ErrorResponse(ctx, err)
	}
	return ctx.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "Bulk operation started"})
}

func (c *BulkOperationController) ListBulkOperations(ctx *fiber.Ctx) error {
	ops, err := c.BulkService.History(ctx.UserContext(), ctx.QueryInt("limit", 50))
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(ops)
}

func (c *BulkOperationController) GetBulkOperation(ctx *fiber.Ctx) error {
	op, err := c.BulkService.GetOperation(ctx.UserContext(), ctx.Params("id"))
	if err != nil {
		return ErrorResponse(ctx, err)
	}
	return ctx.JSON(op)
}

func (c *BulkOperationController) RetryBulkOperation(ctx *fiber.Ctx) error {
	result, err := c.BulkService.Retry(ctx.UserContext(), ctx.Params("id"))
	return resultResponse(ctx, result, err)
}

func (c *BulkOperationController) UndoBulkOperation(ctx *fiber.Ctx) error {
	result, err := c.BulkService.Undo(ctx.UserContext(), ctx.Params("id"))
	return resultResponse(ctx, result, err)
}

func (c *BulkOperationController) CancelBulkOperation(ctx *fiber.Ctx) error {
	if !c.BulkService.Cancel() {
		return ctx.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "No bulk operation is running"})
	}
	return ctx.JSON(fiber.Map{"message": "Cancellation requested"})
}

func (c *BulkOperationController) GetProgress(ctx *fiber.Ctx) error {
	p := c.BulkService.Progress()
	return ctx.JSON(fiber.Map{
		"progress": p,
		"percent":  p.Percent(),
		"busy":     c.BulkService.Busy(),
	})
}

func (c *BulkOperationController) GetErrors(ctx *fiber.Ctx) error {
	return ctx.JSON(c.BulkService.Errors())
}

func (c *BulkOperationController) ExportErrors(ctx *fiber.Ctx) error {
	data, err := ExportErrors(c.BulkService.Errors())
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate export"})
	}
	return sendWorkbook(ctx, "bulk_errors", data)
}

func (c *BulkOperationController) GetOperationLogs(ctx *fiber.Ctx) error {
	logs, err := c.BulkService.OperationLogs(ctx.UserContext(), ctx.Params("id"), ctx.QueryInt("limit", 200))
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(logs)
}

func sendWorkbook(ctx *fiber.Ctx, name string, data []byte) error {
	filename := fmt.Sprintf("%s_%s.xlsx", name, time.Now().Format("20060102_150405"))
	ctx.Set("Content-Type", xlsxContentType)
	ctx.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	return ctx.Send(data)
}

// resultResponse reports a cancelled run that made changes as 200 with the
// partial result.
func resultResponse(ctx *fiber.Ctx, result *OperationResult, err error) error {
	if err != nil && !(errors.Is(err, ErrOperationCancelled) && result != nil) {
		return ErrorResponse(ctx, err)
	}
	return ctx.JSON(result)
}

// ErrorResponse maps engine and service errors to HTTP statuses.
func ErrorResponse(ctx *fiber.Ctx, err error) error {
	return ctx.Status(StatusFor(err)).JSON(fiber.Map{"error": err.Error()})
}

func StatusFor(err error) int {
	var conflict *ConflictError
	switch {
	case errors.Is(err, ErrInvalidUpdates),
		errors.Is(err, ErrInvalidChunkSize),
		errors.Is(err, ErrInvalidTarget),
		errors.Is(err, record.ErrInvalidID):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrOperationNotFound),
		errors.Is(err, ErrOperationNotCached):
		return fiber.StatusNotFound
	case errors.As(err, &conflict),
		errors.Is(err, ErrOperationInProgress),
		errors.Is(err, ErrNothingToRetry),
		errors.Is(err, ErrUndoUnavailable),
		errors.Is(err, ErrOperationCancelled):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
