package repositories

import (
	"context"

	"rplhub/internal/models"
)

// AccountRepository defines the interface for account data access.
//
// Implementations return apperrors.ErrNotFound on a lookup miss,
// apperrors.ErrAlreadyExists when Create hits a taken username and wrap every
// medium failure with apperrors.ErrStoreUnavailable.
type AccountRepository interface {
	Create(ctx context.Context, account *models.UserAccount) error
	GetByUsername(ctx context.Context, username string) (*models.UserAccount, error)
}
