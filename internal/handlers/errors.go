package handlers

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	apperrors "rplhub/internal/errors"
)

// respondError writes the mapped status and a standard error body. Server-side
// failures are logged with their cause, which never reaches the client.
func respondError(c *fiber.Ctx, err error) error {
	herr := apperrors.MapErrorToHTTP(err)
	if herr.StatusCode >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("path", c.Path()).Int("status", herr.StatusCode).Msg("request rejected")
	}
	return c.Status(herr.StatusCode).JSON(herr.ToErrorResponse())
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(apperrors.ErrorResponse{
		Error: message,
		Code:  "BAD_REQUEST",
	})
}

// validationFailed reports the first failing request field.
func validationFailed(c *fiber.Ctx, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return badRequest(c, err.Error())
	}
	e := verrs[0]
	return c.Status(fiber.StatusBadRequest).JSON(apperrors.ErrorResponse{
		Error: fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag()),
		Code:  "VALIDATION_FAILED",
		Field: e.Field(),
	})
}
