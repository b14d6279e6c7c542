package api

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	requestlog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/WVU-ASEL/glidar/domain/diagnostic"
	"github.com/WVU-ASEL/glidar/domain/preview"
	customlog "github.com/WVU-ASEL/glidar/pkg/log"
	"github.com/WVU-ASEL/glidar/services"
)

// Deps are the services exposed over HTTP. Nil members leave their routes
// unregistered.
type Deps struct {
	Diagnostics *diagnostic.DiagnosticService
	Preview     *preview.PreviewService
	Pose        services.PoseConfigService
	Commands    CommandSink
	Logger      customlog.Logger

	// RequestLog prints one line per HTTP request.
	RequestLog bool
}

// NewApp creates the Fiber app with every route registered.
func NewApp(name string, deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               name,
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	if deps.RequestLog {
		app.Use(requestlog.New())
	}
	app.Use(recover.New())

	RegisterRoutes(app, deps)
	return app
}

// RegisterRoutes wires the status, config, preview and control endpoints.
func RegisterRoutes(app *fiber.App, deps Deps) {
	logger := deps.Logger
	if logger == nil {
		logger = customlog.NewNopLogger()
	}

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "glidar",
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	api := app.Group("/api")
	if deps.Diagnostics != nil {
		api.Get("/status", deps.Diagnostics.GetMetricsHandler)
	}
	if deps.Preview != nil && deps.Preview.Enabled() {
		api.Get("/preview", deps.Preview.PreviewHandler)
	}
	if deps.Pose != nil {
		RegisterPoseRoutes(app, deps.Pose, logger)
	}

	if deps.Commands != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/control", websocket.New(func(conn *websocket.Conn) {
			ControlWebSocketHandler(conn, logger, deps.Commands)
		}))
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
