package main

import (
	"context"
	"fmt"

	common_api "go-crm-bulk/internal/common/api"
	"go-crm-bulk/internal/config"
	"go-crm-bulk/internal/database"
	"go-crm-bulk/internal/features/bulk_operation"
	"go-crm-bulk/internal/features/bulk_schedule"
	"go-crm-bulk/internal/features/bulk_template"
	"go-crm-bulk/internal/features/record"
	"go-crm-bulk/internal/features/system"
	"go-crm-bulk/internal/kvstore"
	"go-crm-bulk/internal/logger"
	"go-crm-bulk/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// NewFiberServer creates a new Fiber app instance
func NewFiberServer(cfg *config.Config, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(middleware.CORSMiddleware(cfg))
	app.Use(middleware.RequestLogger(log.Named("http")))

	return app
}

// AsRoute is a helper function to reduce boilerplate.
// It tags the constructor so Fx knows to add it to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(common_api.Route)),
		fx.ResultTags(`group:"routes"`),
	)
}

// RegisterAllRoutes takes the group "routes" (slice of interfaces)
// and calls Setup() on each one.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route, log *zap.Logger) {
	log.Info("registering routes", zap.Int("count", len(routes)))
	for _, route := range routes {
		log.Debug("setting up route", zap.String("route", fmt.Sprintf("%T", route)))
		route.Setup(app)
	}
}

// RegisterAllRoutesWithAnnotation wraps RegisterAllRoutes with fx annotations
var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`, ``),
)

// StartServer creates a lifecycle hook to start Fiber in a goroutine
// and shut it down when the app exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				log.Info("starting server", zap.String("addr", port))
				if err := app.Listen(port); err != nil {
					log.Fatal("server failed to start", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.Shutdown()
		},
	})
}

// StartScheduler runs saved bulk schedules for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, scheduleService bulk_schedule.ScheduleService) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduleService.InitializeScheduler(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduleService.StopScheduler()
		},
	})
}

func main() {
	app := fx.New(
		fx.Provide(
			// Load Config
			config.LoadConfig,

			// Initialize Logger
			logger.NewLogger,

			// Initialize Fiber Server
			NewFiberServer,

			// Initialize Database
			database.NewDatabase,

			// Initialize Repository
			record.NewRecordRepository,
			bulk_operation.NewHistoryRepository,
			bulk_operation.NewLogRepository,
			bulk_schedule.NewScheduleRepository,
			fx.Annotate(kvstore.NewMongoStore, fx.As(new(kvstore.KVStore))),

			// Initialize Service
			bulk_operation.NewBulkEngine,
			bulk_operation.NewBulkOperationService,
			bulk_template.NewTemplateStore,
			bulk_schedule.NewScheduleService,

			// Initialize Controller
			record.NewRecordController,
			bulk_operation.NewBulkOperationController,
			bulk_operation.NewProgressSocket,
			bulk_template.NewTemplateController,
			bulk_schedule.NewScheduleController,

			// Initialize API Routes
			AsRoute(system.NewHealthApi),
			AsRoute(record.NewRecordApi),
			AsRoute(bulk_operation.NewBulkOperationApi),
			AsRoute(bulk_template.NewTemplateApi),
			AsRoute(bulk_schedule.NewScheduleApi),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(
			// Register Routes & Start
			RegisterAllRoutesWithAnnotation,
			StartServer,
			StartScheduler,
		),
	)

	app.Run()
}
