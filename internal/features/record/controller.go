package record

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

const maxListLimit = 1000

// RecordController exposes read access so callers can inspect what a bulk
// target would select.
type RecordController struct {
	Repo RecordRepository
}

func NewRecordController(repo RecordRepository) *RecordController {
	return &RecordController{Repo: repo}
}

// ListRecords returns a module's records. ?filters takes a JSON object of
// equality filters.
func (ctrl *RecordController) ListRecords(c *fiber.Ctx) error {
	moduleName := c.Params("name")
	filters, err := ParseFilters(c.Query("filters"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid filters",
		})
	}

	limit := ParseInt64(c.Query("limit"), 100)
	if limit < 1 || limit > maxListLimit {
		limit = maxListLimit
	}

	records, err := ctrl.Repo.List(c.UserContext(), moduleName, filters, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data":  records,
		"count": len(records),
	})
}

type lookupRequest struct {
	IDs []string `json:"ids"`
}

func (ctrl *RecordController) LookupRecords(c *fiber.Ctx) error {
	var req lookupRequest
	if err := c.BodyParser(&req); err != nil || len(req.IDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "ids are required",
		})
	}

	records, err := ctrl.Repo.FindByIDs(c.UserContext(), c.Params("name"), req.IDs)
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, ErrInvalidID) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data":  records,
		"count": len(records),
	})
}
