package api

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flightbot/flightbot-backend/internal/api/handlers"
	"github.com/flightbot/flightbot-backend/internal/services"
)

// SetupRoutes configures all HTTP routes.
func SetupRoutes(app *fiber.App, svc *services.Services) {
	app.Post("/api/webhook", handlers.Webhook(svc))
	app.Get("/api/setup", handlers.SetupWebhook(svc))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "flightbot-backend",
		})
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Flight Ticket Bot is running. Visit /api/setup to register webhook.",
		})
	})
}
