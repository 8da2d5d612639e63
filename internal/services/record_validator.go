package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"rplhub/internal/codec"
	apperrors "rplhub/internal/errors"
	"rplhub/internal/models"
)

// custom validation tags
const (
	classNameTag = "classname"
	cohortTag    = "cohort"
	joinedMaxTag = "joinedmax"
)

func newRecordValidator(classes, cohorts []string) *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation(classNameTag, oneOfValidation(classes))
	_ = v.RegisterValidation(cohortTag, oneOfValidation(cohorts))
	_ = v.RegisterValidation(joinedMaxTag, joinedMax)
	return v
}

// joinedMax limits the length of a name list once joined into one cell.
func joinedMax(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	names, ok := fl.Field().Interface().([]string)
	if !ok {
		return false
	}
	return utf8.RuneCountInString(codec.JoinTeammates(names)) <= limit
}

// oneOfValidation accepts exactly the listed labels. Unlike the built-in oneof
// tag, labels may contain spaces.
func oneOfValidation(allowed []string) validator.Func {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return func(fl validator.FieldLevel) bool {
		_, ok := set[fl.Field().String()]
		return ok
	}
}

// validateRecord checks fields in declaration order and reports the first
// failure as a *ValidationError.
func (s *SubmissionStore) validateRecord(rec *models.SubmissionRecord) error {
	// required alone accepts a whitespace-only username, which is kept untrimmed
	if strings.TrimSpace(rec.Username) == "" {
		return &apperrors.ValidationError{Field: "username", Tag: "required", Message: "is required"}
	}

	var err error
	if s.requireFN {
		err = s.validate.Struct(rec)
	} else {
		err = s.validate.StructExcept(rec, "ArtifactFilename")
	}
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalid, err)
	}
	fe := verrs[0]
	return &apperrors.ValidationError{
		Field:   lowerFirst(fe.StructField()),
		Tag:     fe.Tag(),
		Message: s.validationMessage(fe),
	}
}

func (s *SubmissionStore) validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "max", joinedMaxTag:
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case classNameTag:
		return "must be one of: " + strings.Join(s.classes, ", ")
	case cohortTag:
		return "must be one of: " + strings.Join(s.cohorts, ", ")
	default:
		return fmt.Sprintf("failed the '%s' check", fe.Tag())
	}
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
