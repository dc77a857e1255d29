// Package main provides the montage API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/montageio/montage/pkg/engine"
	"github.com/montageio/montage/pkg/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type API struct {
	logger   *slog.Logger
	engine   *engine.Engine
	executor engine.StepExecutor
	registry *prometheus.Registry
}

func NewAPI(
	logger *slog.Logger,
	eng *engine.Engine,
	executor engine.StepExecutor,
	registry *prometheus.Registry,
) *API {
	return &API{
		logger:   logger,
		engine:   eng,
		executor: executor,
		registry: registry,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.logger, a.engine, a.executor)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Montage API")
	})

	w := app.Group("/workflows")
	w.Get("/", handlers.ListWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/execute", handlers.ExecuteWorkflow)
	w.Post("/:id/cancel", handlers.CancelWorkflow)
	w.Post("/:id/rollback", handlers.RollbackWorkflow)
	w.Get("/:id/checkpoints", handlers.ListCheckpoints)

	ap := app.Group("/approvals")
	ap.Get("/", handlers.ListApprovals)
	ap.Post("/:id/respond", handlers.RespondApproval)

	app.Get("/metrics", adaptor.HTTPHandler(
		promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
