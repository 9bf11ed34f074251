// Package health mounts casecore's liveness and version endpoints.
// Grounded on the teacher's common/net/http/handler.go (Ping, Version).
package health

import (
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts GET /health and GET /version on app.
func RegisterRoutes(app *fiber.App, ping func() error) {
	app.Get("/health", func(c *fiber.Ctx) error {
		if err := ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy", "error": err.Error()})
		}

		return c.JSON(fiber.Map{"status": "healthy"})
	})

	app.Get("/version", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"service":     "casecore",
			"buildNumber": os.Getenv("BUILD_NUMBER"),
			"requestDate": time.Now().UTC(),
		})
	})
}
