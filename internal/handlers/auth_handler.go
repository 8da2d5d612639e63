package handlers

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	apperrors "rplhub/internal/errors"
	"rplhub/internal/services"
)

// AuthHandler handles HTTP requests for authentication.
type AuthHandler struct {
	creds    *services.CredentialStore
	validate *validator.Validate
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(creds *services.CredentialStore) *AuthHandler {
	validate := validator.New()
	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &AuthHandler{
		creds:    creds,
		validate: validate,
	}
}

// RegisterRoutes registers the authentication routes.
func (h *AuthHandler) RegisterRoutes(router fiber.Router) {
	authRoutes := router.Group("/auth")
	authRoutes.Post("/register", h.HandleRegister)
	authRoutes.Post("/login", h.HandleLogin)
}

// RegisterRequest represents the request body for registration.
type RegisterRequest struct {
	Username        string `json:"username" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required"`
}

// HandleRegister creates an account. Password policy lives in the store; the
// handler only checks that the confirmation matches.
func (h *AuthHandler) HandleRegister(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}
	if req.Password != req.PasswordConfirm {
		return c.Status(fiber.StatusBadRequest).JSON(apperrors.ErrorResponse{
			Error: "passwords do not match",
			Code:  "PASSWORD_MISMATCH",
			Field: "password_confirm",
		})
	}

	if err := h.creds.Register(c.UserContext(), req.Username, req.Password); err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":  "Account created, please log in",
		"username": req.Username,
	})
}

// LoginRequest represents the request body for login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// HandleLogin verifies the password and issues a session token.
func (h *AuthHandler) HandleLogin(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	ok, err := h.creds.Verify(c.UserContext(), req.Username, req.Password)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return respondError(c, err)
	}
	if !ok {
		log.Info().Str("username", req.Username).Msg("login rejected")
		return c.Status(fiber.StatusUnauthorized).JSON(apperrors.ErrorResponse{
			Error: "invalid username or password",
			Code:  "INVALID_CREDENTIALS",
		})
	}

	token, err := h.creds.IssueToken(req.Username)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":  "Login successful",
		"token":    token,
		"username": req.Username,
	})
}
