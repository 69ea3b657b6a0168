package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

const (
	minPasswordChars = 6
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
)

var e164Pattern = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries one message per rejected field.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return validPassword(fl.Field().String())
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return e164Pattern.MatchString(fl.Field().String())
	})
	return v
}

func validPassword(raw string) bool {
	if utf8.RuneCountInString(raw) < minPasswordChars || len(raw) > maxPasswordBytes {
		return false
	}
	var lower, upper, digit bool
	for _, r := range raw {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return lower && upper && digit
}

// validateStruct runs the struct's validate tags and converts failures into
// a *ValidationError with client-facing messages.
func validateStruct(input interface{}) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := &ValidationError{Fields: make([]FieldError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must not exceed %s characters", field, fe.Param())
	case "email":
		return field + " must be a valid email address"
	case "oneof":
		return field + " must be either Admin or Staff"
	case "password":
		return fmt.Sprintf("%s must be at least %d characters and at most %d bytes long with at least one lowercase letter, one uppercase letter and one number",
			field, minPasswordChars, maxPasswordBytes)
	case "phone":
		return field + " must be a valid phone number"
	default:
		return field + " is invalid"
	}
}

// NormalizeEmail trims, composes and lower-cases an address so lookups and
// the unique index compare the same form.
func NormalizeEmail(raw string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(raw)))
}

func normalizeName(raw string) string {
	return norm.NFC.String(strings.TrimSpace(raw))
}

func normalizePhone(raw *string) *string {
	if raw == nil {
		return nil
	}
	v := phoneSeparators.Replace(strings.TrimSpace(*raw))
	return &v
}

func trimOptional(raw *string) *string {
	if raw == nil {
		return nil
	}
	v := norm.NFC.String(strings.TrimSpace(*raw))
	return &v
}
