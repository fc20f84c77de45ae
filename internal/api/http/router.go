package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/pod-racer/internal/api/http/handlers"
	"github.com/spec-kit/pod-racer/internal/auth"
	"github.com/spec-kit/pod-racer/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Pods           *handlers.PodsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))

	app.Get("/status", cfg.Pods.Status)
	app.Get("/queue_status", cfg.Pods.QueueStatus)
	app.Get("/get_credits/:user_id", cfg.Pods.GetCredits)
	app.Get("/pods", cfg.Pods.Pods)

	protected := app.Group("", cfg.AuthMiddleware.Handle)
	protected.Post("/create_user", cfg.Pods.CreateUser)
	protected.Post("/start_pod", cfg.Pods.StartPod)
	protected.Post("/start_race", cfg.Pods.StartPod)
	protected.Post("/close", cfg.Pods.Close)
	protected.Post("/assign_credits", cfg.Pods.AssignCredits)
	protected.Post("/set_credits", cfg.Pods.AssignCredits)
}
