// Package validation validates request bodies with go-playground/validator
// and turns failures into field-level bad-request errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"netcrew.io/internal/apperr"
	"netcrew.io/internal/ids"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report JSON field names so messages match the request body.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
		_ = validate.RegisterValidation("entity_id", func(fl validator.FieldLevel) bool {
			return ids.Valid(fl.Field().String())
		})
	})
	return validate
}

// Struct validates v. It returns nil or an *apperr.Error of kind bad_request
// carrying one message per failed field.
func Struct(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Validation([]string{err.Error()})
	}
	messages := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		messages[i] = translate(fe)
	}
	return apperr.Validation(messages)
}

var messageTemplates = map[string]string{
	"required":    "%s is required",
	"email":       "%s must be a valid email address",
	"entity_id":   "%s must be a valid id",
	"len":         "%s has the wrong length",
	"hexadecimal": "%s must be hexadecimal",
	"numeric":     "%s must be numeric",
}

var paramTemplates = map[string]string{
	"oneof":            "%s must be one of: %s",
	"gte":              "%s must be greater than or equal to %s",
	"lte":              "%s must be less than or equal to %s",
	"gtfield":          "%s must be after %s",
	"required_without": "%s is required when %s is missing",
}

func translate(fe validator.FieldError) string {
	field := fe.Field()
	if tpl, ok := messageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tpl, field)
	}
	if tpl, ok := paramTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(tpl, field, fe.Param())
	}
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
