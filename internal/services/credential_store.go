package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgrijalva/jwt-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	apperrors "rplhub/internal/errors"
	"rplhub/internal/models"
	"rplhub/internal/repositories"
)

const (
	// MinPasswordLength is the shortest password Register accepts.
	MinPasswordLength = 4
	// MaxUsernameLength matches the width of the username columns.
	MaxUsernameLength = 100
)

// CredentialOptions configures a CredentialStore.
type CredentialOptions struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

// CredentialStore registers accounts, verifies passwords and issues the
// session tokens the transport passes back on every request.
type CredentialStore struct {
	repo       repositories.AccountRepository
	jwtSecret  []byte
	tokenTTL   time.Duration
	bcryptCost int
	now        func() time.Time
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(repo repositories.AccountRepository, opts CredentialOptions) *CredentialStore {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 12 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &CredentialStore{
		repo:       repo,
		jwtSecret:  []byte(opts.JWTSecret),
		tokenTTL:   opts.TokenTTL,
		bcryptCost: opts.BcryptCost,
		now:        time.Now,
	}
}

// Exists reports whether an account with exactly this username exists.
func (s *CredentialStore) Exists(ctx context.Context, username string) (bool, error) {
	_, err := s.repo.GetByUsername(ctx, username)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	return false, storeError("look up account", err)
}

// Register hashes password and stores a new account.
func (s *CredentialStore) Register(ctx context.Context, username, password string) error {
	if strings.TrimSpace(username) == "" {
		return apperrors.Invalid("username must not be empty")
	}
	// usernames match exactly everywhere, so " alice" would be a second identity
	if username != strings.TrimSpace(username) {
		return apperrors.Invalid("username must not start or end with whitespace")
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return apperrors.Invalid(fmt.Sprintf("username must be at most %d characters", MaxUsernameLength))
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return apperrors.Invalid(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}

	exists, err := s.Exists(ctx, username)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("username '%s': %w", username, apperrors.ErrAlreadyExists)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return apperrors.Invalid("password must be at most 72 bytes")
		}
		return fmt.Errorf("failed to hash password: %w", err)
	}

	account := &models.UserAccount{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	// the unique index still rejects a racing registration with ErrAlreadyExists
	if err := s.repo.Create(ctx, account); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return err
		}
		return storeError("create account", err)
	}
	log.Info().Str("username", username).Msg("account registered")
	return nil
}

// Verify checks password against the stored hash. An unknown username is
// ErrNotFound; a stored hash that cannot be parsed verifies as false.
func (s *CredentialStore) Verify(ctx context.Context, username, password string) (bool, error) {
	account, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, err
		}
		return false, storeError("look up account", err)
	}

	err = bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		log.Warn().Err(err).Str("username", username).Msg("stored password hash is unreadable")
		return false, nil
	}
}

// IssueToken returns a signed HS256 token carrying username.
func (s *CredentialStore) IssueToken(username string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      username,
		"username": username,
		"exp":      now.Add(s.tokenTTL).Unix(),
		"iat":      now.Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses a token issued by IssueToken and returns its username.
func (s *CredentialStore) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	username, _ := claims["username"].(string)
	if username == "" {
		return "", fmt.Errorf("invalid token: missing username")
	}
	return username, nil
}

// storeError keeps errors already classified by a repository and marks the
// rest as storage failures.
func storeError(op string, err error) error {
	if errors.Is(err, apperrors.ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.Unavailable(op, err)
}
