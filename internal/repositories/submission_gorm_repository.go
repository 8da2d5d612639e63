package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "rplhub/internal/errors"
	"rplhub/internal/models"
)

// submissionDataColumns are rewritten on conflict; id and username are kept.
var submissionDataColumns = []string{
	"full_name",
	"class_name",
	"cohort",
	"teammates",
	"colab_link",
	"artifact_filename",
	"status",
	"last_updated",
}

// GORMSubmissionRepository is a GORM implementation of SubmissionRepository.
type GORMSubmissionRepository struct {
	db *gorm.DB
}

// NewGORMSubmissionRepository creates a new instance of GORMSubmissionRepository.
func NewGORMSubmissionRepository(db *gorm.DB) *GORMSubmissionRepository {
	return &GORMSubmissionRepository{
		db: db,
	}
}

// GetByUsername retrieves the submission row of a user.
func (r *GORMSubmissionRepository) GetByUsername(ctx context.Context, username string) (*models.SubmissionRow, error) {
	var row models.SubmissionRow
	if err := r.db.WithContext(ctx).First(&row, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("submission of '%s': %w", username, apperrors.ErrNotFound)
		}
		return nil, apperrors.Unavailable(fmt.Sprintf("get submission of '%s'", username), err)
	}
	return &row, nil
}

// GetAll retrieves every submission row.
func (r *GORMSubmissionRepository) GetAll(ctx context.Context) ([]models.SubmissionRow, error) {
	var rows []models.SubmissionRow
	if err := r.db.WithContext(ctx).Order("username").Find(&rows).Error; err != nil {
		return nil, apperrors.Unavailable("list submissions", err)
	}
	return rows, nil
}

// Upsert writes the row with a single INSERT ... ON CONFLICT (username) DO UPDATE
// (ON DUPLICATE KEY UPDATE on MySQL), so the lookup and the write cannot be split
// by another writer. The id of an existing row is preserved.
func (r *GORMSubmissionRepository) Upsert(ctx context.Context, row *models.SubmissionRow) error {
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns(submissionDataColumns),
	}).Create(row).Error
	if err != nil {
		return apperrors.Unavailable(fmt.Sprintf("upsert submission of '%s'", row.Username), err)
	}
	return nil
}
