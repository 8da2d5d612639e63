package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "rplhub/internal/errors"
	"rplhub/internal/models"
)

// GORMAccountRepository is a GORM implementation of AccountRepository.
type GORMAccountRepository struct {
	db *gorm.DB
}

// NewGORMAccountRepository creates a new instance of GORMAccountRepository.
func NewGORMAccountRepository(db *gorm.DB) *GORMAccountRepository {
	return &GORMAccountRepository{
		db: db,
	}
}

// Create inserts a new account. The unique index on username turns a racing
// duplicate insert into ErrAlreadyExists.
func (r *GORMAccountRepository) Create(ctx context.Context, account *models.UserAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("username '%s': %w", account.Username, apperrors.ErrAlreadyExists)
		}
		return apperrors.Unavailable("create account", err)
	}
	return nil
}

// GetByUsername retrieves an account by its exact username.
func (r *GORMAccountRepository) GetByUsername(ctx context.Context, username string) (*models.UserAccount, error) {
	var account models.UserAccount
	if err := r.db.WithContext(ctx).First(&account, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account '%s': %w", username, apperrors.ErrNotFound)
		}
		return nil, apperrors.Unavailable(fmt.Sprintf("get account '%s'", username), err)
	}
	return &account, nil
}
