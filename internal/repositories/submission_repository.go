package repositories

import (
	"context"

	"rplhub/internal/models"
)

// SubmissionRepository defines the interface for submission data access.
//
// Upsert is the single find-or-create unit: an existing row for row.Username
// is replaced in place, otherwise a new row is added. It must never leave two
// rows for one username.
type SubmissionRepository interface {
	GetByUsername(ctx context.Context, username string) (*models.SubmissionRow, error)
	GetAll(ctx context.Context) ([]models.SubmissionRow, error)
	Upsert(ctx context.Context, row *models.SubmissionRow) error
}
