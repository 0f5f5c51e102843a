package system

import (
	"context"
	"time"

	"go-crm-bulk/internal/database"

	"github.com/gofiber/fiber/v2"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type mongoPinger struct {
	db *database.MongodbDB
}

func (p mongoPinger) Ping(ctx context.Context) error {
	return p.db.Client.Ping(ctx, nil)
}

type HealthApi struct {
	store Pinger
}

func NewHealthApi(db *database.MongodbDB) *HealthApi {
	return &HealthApi{store: mongoPinger{db: db}}
}

// Setup registers health check routes
func (h *HealthApi) Setup(app *fiber.App) {
	app.Get("/health", h.HealthCheck)
	app.Get("/health/ready", h.ReadyCheck)
}

// HealthCheck reports that the process is serving.
func (h *HealthApi) HealthCheck(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// ReadyCheck also verifies the database connection.
func (h *HealthApi) ReadyCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}
