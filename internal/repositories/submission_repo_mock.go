package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	apperrors "rplhub/internal/errors"
	"rplhub/internal/models"
)

// MockSubmissionRepository is an in-memory implementation of SubmissionRepository.
// Status values are kept as given, so a native bool stays a bool.
type MockSubmissionRepository struct {
	rows map[string]models.SubmissionRow
	mu   sync.RWMutex
}

// NewMockSubmissionRepository creates a new instance of MockSubmissionRepository.
func NewMockSubmissionRepository() *MockSubmissionRepository {
	return &MockSubmissionRepository{
		rows: make(map[string]models.SubmissionRow),
	}
}

// GetByUsername returns the submission row of a user.
func (r *MockSubmissionRepository) GetByUsername(_ context.Context, username string) (*models.SubmissionRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[username]
	if !ok {
		return nil, fmt.Errorf("submission of '%s': %w", username, apperrors.ErrNotFound)
	}
	return &row, nil
}

// GetAll returns all submission rows ordered by username.
func (r *MockSubmissionRepository) GetAll(_ context.Context) ([]models.SubmissionRow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rowList := make([]models.SubmissionRow, 0, len(r.rows))
	for _, row := range r.rows {
		rowList = append(rowList, row)
	}
	sort.Slice(rowList, func(i, j int) bool { return rowList[i].Username < rowList[j].Username })
	return rowList, nil
}

// Upsert replaces the row of row.Username, keeping its id, or adds a new one.
func (r *MockSubmissionRepository) Upsert(_ context.Context, row *models.SubmissionRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.rows[row.Username]; ok {
		row.ID = existing.ID
	} else if row.ID == "" {
		row.ID = uuid.New().String()
	}
	r.rows[row.Username] = *row
	return nil
}
