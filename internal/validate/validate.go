// Package validate runs client-side form checks before a request is sent and
// reports failures in the same shape as a 400 from the backend.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	perrors "github.com/p-blackswan/agrostore/internal/errors"
)

// Validator wraps go-playground/validator with JSON field naming.
type Validator struct {
	validator *validator.Validate
}

// New creates a Validator. Field errors are keyed by the json tag name so
// they line up with field errors decoded from the backend.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{validator: v}
}

// Struct validates s. A failure is returned as a KindValidation *perrors.Error
// tagged with op.
func (v *Validator) Struct(op string, s any) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &perrors.Error{Kind: perrors.KindUnknown, Op: op, Message: "validating input", Err: err}
	}
	fields := make(map[string][]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields[fe.Field()] = append(fields[fe.Field()], message(fe.Tag(), fe.Param()))
	}
	return perrors.Validation(op, fields)
}

func message(tag, param string) string {
	switch tag {
	case "required":
		return "This field is required"
	case "email":
		return "Invalid email format"
	case "min":
		return fmt.Sprintf("Must be at least %s characters long", param)
	case "max":
		return fmt.Sprintf("Must not exceed %s characters", param)
	case "gte":
		return fmt.Sprintf("Must be at least %s", param)
	case "lte":
		return fmt.Sprintf("Must be at most %s", param)
	case "gt":
		return fmt.Sprintf("Must be greater than %s", param)
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", strings.ReplaceAll(param, " ", ", "))
	case "e164":
		return "Invalid phone number, use the +79991234567 format"
	case "eqfield":
		return fmt.Sprintf("Must match %s", param)
	default:
		return fmt.Sprintf("Failed validation on rule: %s", tag)
	}
}
