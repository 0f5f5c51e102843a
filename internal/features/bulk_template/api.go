package bulk_template

import (
	"go-crm-bulk/internal/config"
	"go-crm-bulk/internal/features/bulk_operation"
	"go-crm-bulk/internal/kvstore"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type TemplateApi struct {
	Controller *TemplateController
}

func NewTemplateApi(controller *TemplateController) *TemplateApi {
	return &TemplateApi{Controller: controller}
}

func (api *TemplateApi) Setup(app *fiber.App) {
	group := app.Group("/api/bulk/templates")

	group.Get("/", api.Controller.ListTemplates)
	group.Post("/", api.Controller.CreateTemplate)
	group.Get("/:id", api.Controller.GetTemplate)
	group.Delete("/:id", api.Controller.DeleteTemplate)
	group.Post("/:id/apply", api.Controller.ApplyTemplate)
}

// NewTemplateStore wires a Store to the shared engine and the configured key.
func NewTemplateStore(kv kvstore.KVStore, engine *bulk_operation.Engine, logger *zap.Logger, cfg *config.Config) *Store {
	return NewStore(kv, engine, logger.Named("bulk_template"), cfg.BulkTemplateKey)
}
