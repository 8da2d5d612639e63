package handlers

import (
	"github.com/gofiber/fiber/v2"

	apperrors "rplhub/internal/errors"
	"rplhub/internal/middleware"
	"rplhub/internal/models"
	"rplhub/internal/services"
)

// SubmissionHandler serves the signed-in student's own submission.
type SubmissionHandler struct {
	store *services.SubmissionStore
}

// NewSubmissionHandler creates a new SubmissionHandler.
func NewSubmissionHandler(store *services.SubmissionStore) *SubmissionHandler {
	return &SubmissionHandler{store: store}
}

// RegisterRoutes registers the submission routes. router must already be
// behind middleware.AuthRequired.
func (h *SubmissionHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/submission", h.HandleGetSubmission)
	router.Put("/submission", h.HandlePutSubmission)
}

// SubmissionRequest is the editable part of a submission. The username comes
// from the session, never from the body.
type SubmissionRequest struct {
	FullName         string   `json:"full_name"`
	ClassName        string   `json:"class_name"`
	Cohort           string   `json:"cohort"`
	Teammates        []string `json:"teammates"`
	ArtifactLink     string   `json:"artifact_link"`
	ArtifactFilename string   `json:"artifact_filename"`
	Done             bool     `json:"done"`
}

// HandleGetSubmission returns the caller's submission for pre-filling the form.
func (h *SubmissionHandler) HandleGetSubmission(c *fiber.Ctx) error {
	username := middleware.Username(c)
	rec, err := h.store.Fetch(c.UserContext(), username)
	if err != nil {
		return respondError(c, err)
	}
	if rec == nil {
		return c.Status(fiber.StatusNotFound).JSON(apperrors.ErrorResponse{
			Error: "no submission yet",
			Code:  "NOT_FOUND",
		})
	}
	return c.JSON(rec)
}

// HandlePutSubmission replaces the caller's submission with the request body.
func (h *SubmissionHandler) HandlePutSubmission(c *fiber.Ctx) error {
	var req SubmissionRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	saved, err := h.store.Upsert(c.UserContext(), models.SubmissionRecord{
		Username:         middleware.Username(c),
		FullName:         req.FullName,
		ClassName:        req.ClassName,
		Cohort:           req.Cohort,
		Teammates:        req.Teammates,
		ArtifactLink:     req.ArtifactLink,
		ArtifactFilename: req.ArtifactFilename,
		Done:             req.Done,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":    "Submission saved",
		"submission": saved,
	})
}

// HandleGetOptions lists the class and cohort labels the form may offer.
func (h *SubmissionHandler) HandleGetOptions(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"classes": h.store.ClassOptions(),
		"cohorts": h.store.CohortOptions(),
	})
}
