package core

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"postwire/internal/types"
)

// errCodeValidationInvalidField is the generic code for a field that fails a
// validation rule with no more specific taxonomy entry.
const errCodeValidationInvalidField types.ErrorCode = "validation_invalid_field"

// ValidationError describes a single field-level validation failure in a form
// suitable for inclusion in an API error response.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult aggregates the outcome of a struct validation pass.
// Warnings are advisory and do not make the result invalid.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []string
}

// IsValid reports whether the validation pass produced no errors.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator and registers the domain-specific
// rules used by request structs:
//
//   - future:      a time.Time value must be strictly in the future (zero
//     values pass; combine with required if the field is mandatory).
//   - post_status: a string must be a recognized post lifecycle status.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with all custom rules registered.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// RegisterValidation only errors on a nil func or empty tag name, which
	// would be a programming error here.
	_ = v.RegisterValidation("future", validateFuture)
	_ = v.RegisterValidation("post_status", validatePostStatus)

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// validateFuture passes when the field is a zero time.Time or a time strictly
// after now. Non-time fields fail.
func validateFuture(fl validator.FieldLevel) bool {
	t, ok := fl.Field().Interface().(time.Time)
	if !ok {
		return false
	}
	if t.IsZero() {
		return true
	}
	return t.After(time.Now())
}

// validatePostStatus passes when the field holds a recognized status string.
func validatePostStatus(fl validator.FieldLevel) bool {
	return types.PostStatus(fl.Field().String()).Valid()
}

// ValidateStruct validates s against its struct tags. On failure it returns a
// *types.AppError whose Code reflects the first validation failure and whose
// Details carry the full list under "validation_errors".
func (v *Validator) ValidateStruct(s interface{}) error {
	result := v.ValidateStructWithWarnings(s)
	if result.IsValid() {
		return nil
	}

	first := result.Errors[0]
	return types.NewAppErrorWithDetails(
		types.ErrorCode(first.Code),
		first.Message,
		nil,
		map[string]any{
			"validation_errors": result.Errors,
		},
	)
}

// ValidateStructWithWarnings validates s and returns the structured result
// instead of an error, for callers that want to surface all failures at once.
func (v *Validator) ValidateStructWithWarnings(s interface{}) ValidationResult {
	var result ValidationResult

	err := v.validate.Struct(s)
	if err == nil {
		return result
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		// validator.Struct returns *InvalidValidationError for non-struct
		// input; report it as a single generic failure.
		v.logger.Warn("validator received non-struct input", "error", err)
		result.Errors = append(result.Errors, ValidationError{
			Field:   "",
			Code:    string(errCodeValidationInvalidField),
			Message: "input is not a validatable struct",
		})
		return result
	}

	for _, fe := range verrs {
		result.Errors = append(result.Errors, ValidationError{
			Field:   fieldName(fe),
			Code:    string(codeForTag(fe.Tag())),
			Message: messageForError(fe),
		})
	}

	return result
}

// fieldName normalizes the failing Go field name for client consumption.
func fieldName(fe validator.FieldError) string {
	return strings.ToLower(fe.Field())
}

// codeForTag maps validation tags onto the error code taxonomy.
func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "required":
		return types.ErrCodeValidationMissingField
	case "future":
		return types.ErrCodeValidationPastTime
	case "post_status":
		return types.ErrCodeValidationInvalidStatus
	case "datetime":
		return types.ErrCodeValidationInvalidTime
	default:
		return errCodeValidationInvalidField
	}
}

// messageForError builds a human-readable message for a field error.
func messageForError(fe validator.FieldError) string {
	field := fieldName(fe)
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("field %q is required", field)
	case "future":
		return fmt.Sprintf("field %q must be a time in the future", field)
	case "post_status":
		return fmt.Sprintf("field %q must be a valid post status", field)
	case "datetime":
		return fmt.Sprintf("field %q must be a valid RFC 3339 timestamp", field)
	case "min", "max":
		return fmt.Sprintf("field %q is out of range (%s=%s)", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("field %q failed validation rule %q", field, fe.Tag())
	}
}
