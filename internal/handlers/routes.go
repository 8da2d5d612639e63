package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"rplhub/internal/middleware"
	"rplhub/internal/services"
)

// Deps are the collaborators the HTTP routes call into.
type Deps struct {
	Credentials    *services.CredentialStore
	Submissions    *services.SubmissionStore
	AdminUsernames []string
	// Checks reports the health of optional backends by name; nil means healthy.
	Checks map[string]func() error
}

// SetupRoutes mounts the API under /api/v1 and the health endpoint at /health.
func SetupRoutes(app *fiber.App, deps Deps) {
	authHandler := NewAuthHandler(deps.Credentials)
	submissionHandler := NewSubmissionHandler(deps.Submissions)
	adminHandler := NewAdminHandler(deps.Submissions)

	apiV1 := app.Group("/api/v1")

	// public
	authHandler.RegisterRoutes(apiV1)
	apiV1.Get("/options", submissionHandler.HandleGetOptions)

	protected := apiV1.Group("", middleware.AuthRequired(deps.Credentials))
	submissionHandler.RegisterRoutes(protected)

	admin := apiV1.Group("/admin", middleware.AuthRequired(deps.Credentials), middleware.AdminRequired(deps.AdminUsernames))
	adminHandler.RegisterRoutes(admin)

	app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{}
		healthy := true
		for name, check := range deps.Checks {
			if err := check(); err != nil {
				status[name] = err.Error()
				healthy = false
			} else {
				status[name] = "ok"
			}
		}
		code := fiber.StatusOK
		state := "healthy"
		if !healthy {
			code = fiber.StatusServiceUnavailable
			state = "degraded"
		}
		return c.Status(code).JSON(fiber.Map{
			"status": state,
			"time":   time.Now().Format(time.RFC3339),
			"checks": status,
		})
	})
}
