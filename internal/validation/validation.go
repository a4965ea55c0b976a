// Package validation checks service inputs with struct tags and maps failures to
// user-facing messages.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	apperrors "github.com/gridops/fieldsync/internal/errors"
)

// Messages maps a failed field to the message shown to the user. Keys are "field.tag" or
// "field", where field is the json name of the failing field.
type Messages map[string]string

var (
	engine *validator.Validate
	once   sync.Once
)

// Engine returns the shared validator. Field names in errors are json tag names.
func Engine() *validator.Validate {
	once.Do(func() {
		engine = validator.New(validator.WithRequiredStructEnabled())
		UseJSONNames(engine)
		_ = engine.RegisterValidation("notblank", validators.NotBlank)
	})
	return engine
}

// UseJSONNames makes v report fields by their json tag names.
func UseJSONNames(v *validator.Validate) {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Struct validates s and returns a validation error carrying the message of the first
// failing field, or nil.
func Struct(s interface{}, messages Messages) error {
	err := Engine().Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return apperrors.Validation(err.Error())
	}
	return apperrors.Validation(Message(ve[0], messages))
}

// Message returns the configured message for fe, or a generic one.
func Message(fe validator.FieldError, messages Messages) string {
	if msg, ok := messages[fe.Field()+"."+fe.Tag()]; ok {
		return msg
	}
	if msg, ok := messages[fe.Field()]; ok {
		return msg
	}
	return formatFieldError(fe)
}

// Format renders every validation failure in err, joined with ", ".
func Format(err error) string {
	if err == nil {
		return ""
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		out := make([]string, 0, len(ve))
		for _, fe := range ve {
			out = append(out, formatFieldError(fe))
		}
		return strings.Join(out, ", ")
	}
	return err.Error()
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "notblank":
		return fmt.Sprintf("Field '%s' is required", fe.Field())
	case "min":
		return fmt.Sprintf("Field '%s' must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("Field '%s' must be at most %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("Field '%s' must be greater than %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("Field '%s' must be one of [%s]", fe.Field(), fe.Param())
	case "datetime":
		return fmt.Sprintf("Field '%s' must be a date in %s format", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("Field '%s' failed validation for '%s'", fe.Field(), fe.Tag())
}
