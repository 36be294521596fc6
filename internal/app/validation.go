package app

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/HolyFlex-tecjh/axion/internal/domain"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator. Field paths are reported with
// their mapstructure names so errors read like the YAML keys.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
			switch name {
			case "-":
				return ""
			case "":
				return f.Name
			}
			return name
		})
	})
	return validate
}

var tagMessages = map[string]string{
	"required": "is required",
	"oneof":    "must be one of: %s",
	"gte":      "must be greater than or equal to %s",
	"lte":      "must be less than or equal to %s",
	"gt":       "must be greater than %s",
	"lt":       "must be less than %s",
	"min":      "must have at least %s entries",
	"max":      "must have at most %s entries",
}

// validateStruct checks s against its validate tags and reports the first
// failure as a ConfigValidationError.
func validateStruct(s any) error {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &domain.ConfigValidationError{Field: "config", Reason: err.Error()}
	}
	fe := fieldErrs[0]
	return &domain.ConfigValidationError{
		Field:  fieldPath(fe.Namespace()),
		Value:  fmt.Sprint(fe.Value()),
		Reason: translateTag(fe),
	}
}

// fieldPath drops the root struct name: "Config.raid.join_threshold" becomes
// "raid.join_threshold".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}

func translateTag(fe validator.FieldError) string {
	tmpl, ok := tagMessages[fe.Tag()]
	if !ok {
		// Alternatives like "eq=0|gte=1" land here.
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
	if strings.Contains(tmpl, "%s") {
		return fmt.Sprintf(tmpl, fe.Param())
	}
	return tmpl
}
