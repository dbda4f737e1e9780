package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	pulseerrors "github.com/alexisbeaulieu97/pulse/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	sides         = map[string]struct{}{"client": {}, "server": {}, "both": {}}
	faultPolicies = map[string]struct{}{"log_and_continue": {}, "abort_task": {}, "retry_once": {}}
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})

		_ = v.RegisterValidation("side", func(fl validator.FieldLevel) bool {
			_, ok := sides[strings.ToLower(fl.Field().String())]
			return ok
		})

		_ = v.RegisterValidation("fault_policy", func(fl validator.FieldLevel) bool {
			_, ok := faultPolicies[fl.Field().String()]
			return ok
		})

		validateInst = v
	})

	return validateInst
}

// Validate checks field rules and cross-field constraints.
func Validate(cfg *Config) error {
	if cfg == nil {
		return pulseerrors.NewValidationError("config", "configuration is nil", nil)
	}

	if err := validatorInstance().Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	if cfg.ShutdownTimeout < cfg.TickRate {
		return pulseerrors.NewValidationError("shutdown_timeout", fmt.Sprintf("must be at least tick_rate (%s)", cfg.TickRate), nil)
	}
	return nil
}

func convertValidationError(err error) error {
	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		ve := ves[0]
		field := fieldPath(ve.Namespace())
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return pulseerrors.NewValidationError(field, msg, err)
	}

	return pulseerrors.NewValidationError("config", err.Error(), err)
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return rest
}
