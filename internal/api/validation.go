package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator"
	"go.uber.org/zap"
)

// Validator checks request payloads and reports the first failure by its JSON field name.
type Validator struct {
	validator *validator.Validate
	logger    *zap.Logger
}

// NewValidator creates a Validator.
func NewValidator(logger *zap.Logger) *Validator {
	v := &Validator{validator: validator.New(), logger: logger}
	v.validator.RegisterTagNameFunc(useJSONFieldNames)
	return v
}

// Validate returns a client facing error when i violates its validate tags.
func (v *Validator) Validate(i any) error {
	err := v.validator.Struct(i)
	if err == nil {
		return nil
	}
	v.logger.Warn("validation failed", zap.Error(err))

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		switch validationErrs[0].Tag() {
		case "required":
			return fmt.Errorf("missing required field '%s'", validationErrs[0].Field())
		case "min", "max":
			return fmt.Errorf("value of field '%s' is not in the expected range", validationErrs[0].Field())
		}
	}
	return err
}

func useJSONFieldNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}
