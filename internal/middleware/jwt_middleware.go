package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	apperrors "rplhub/internal/errors"
)

// usernameKey is the Fiber locals key holding the authenticated username.
const usernameKey = "username"

// TokenValidator resolves a session token to a username.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// AuthRequired is a Fiber middleware to check for a valid JWT token. The
// username it carries is the only session state handlers see.
func AuthRequired(tokens TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return unauthorized(c, "Authorization header is required")
		}

		// Expected format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") {
			return unauthorized(c, "Authorization header format must be 'Bearer <token>'")
		}

		username, err := tokens.ValidateToken(parts[1])
		if err != nil {
			log.Debug().Err(err).Str("path", c.Path()).Msg("JWT validation failed")
			return unauthorized(c, "Invalid or expired token")
		}

		c.Locals(usernameKey, username)
		return c.Next()
	}
}

// AdminRequired lets through only the listed usernames. It must run after
// AuthRequired.
func AdminRequired(admins []string) fiber.Handler {
	allowed := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		allowed[a] = struct{}{}
	}
	return func(c *fiber.Ctx) error {
		if _, ok := allowed[Username(c)]; !ok {
			return c.Status(fiber.StatusForbidden).JSON(apperrors.ErrorResponse{
				Error: "admin access required",
				Code:  "FORBIDDEN",
			})
		}
		return c.Next()
	}
}

// Username returns the authenticated username, or "" outside AuthRequired.
func Username(c *fiber.Ctx) string {
	username, _ := c.Locals(usernameKey).(string)
	return username
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(apperrors.ErrorResponse{
		Error: message,
		Code:  "UNAUTHORIZED",
	})
}
