package handlers

import (
	"github.com/gofiber/fiber/v2"

	"rplhub/internal/services"
)

// AdminHandler serves the read-only overview of every submission.
type AdminHandler struct {
	store *services.SubmissionStore
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(store *services.SubmissionStore) *AdminHandler {
	return &AdminHandler{store: store}
}

// RegisterRoutes registers the admin routes. router must already be behind
// middleware.AuthRequired and middleware.AdminRequired.
func (h *AdminHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/submissions", h.HandleListSubmissions)
}

// HandleListSubmissions returns all submissions and the per-class counts
// computed from that same snapshot.
func (h *AdminHandler) HandleListSubmissions(c *fiber.Ctx) error {
	records, err := h.store.FetchAll(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"total":       len(records),
		"submissions": records,
		"summary":     services.Summarize(records),
	})
}
