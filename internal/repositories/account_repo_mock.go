package repositories

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	apperrors "rplhub/internal/errors"
	"rplhub/internal/models"
)

// MockAccountRepository is an in-memory implementation of AccountRepository.
type MockAccountRepository struct {
	accounts map[string]models.UserAccount
	mu       sync.RWMutex
}

// NewMockAccountRepository creates a new instance of MockAccountRepository.
func NewMockAccountRepository() *MockAccountRepository {
	return &MockAccountRepository{
		accounts: make(map[string]models.UserAccount),
	}
}

// Create adds a new account.
func (r *MockAccountRepository) Create(_ context.Context, account *models.UserAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[account.Username]; ok {
		return fmt.Errorf("username '%s': %w", account.Username, apperrors.ErrAlreadyExists)
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	r.accounts[account.Username] = *account
	return nil
}

// GetByUsername returns an account by its exact username.
func (r *MockAccountRepository) GetByUsername(_ context.Context, username string) (*models.UserAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[username]
	if !ok {
		return nil, fmt.Errorf("account '%s': %w", username, apperrors.ErrNotFound)
	}
	return &account, nil
}
