package mod

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	pulseerrors "github.com/alexisbeaulieu97/pulse/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	modIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,63}$`)
)

// Metadata is the static descriptor shipped with a mod.
type Metadata struct {
	ID           string       `yaml:"id" validate:"required,mod_id"`
	Name         string       `yaml:"name"`
	Version      string       `yaml:"version" validate:"required,semver"`
	Description  string       `yaml:"description"`
	Entrypoint   string       `yaml:"entrypoint"`
	Dependencies []Dependency `yaml:"dependencies" validate:"dive"`
	Conflicts    []string     `yaml:"conflicts" validate:"dive,mod_id"`
	Mixins       []string     `yaml:"mixins" validate:"dive,required"`
	Permissions  []string     `yaml:"permissions" validate:"dive,required"`
}

// Dependency declares a requirement on another mod.
type Dependency struct {
	ID       string `yaml:"id" validate:"required,mod_id"`
	Version  string `yaml:"version" validate:"omitempty,version_constraint"`
	Optional bool   `yaml:"optional"`
}

// Constraint parses the declared version constraint. An empty version
// yields a nil constraint.
func (d Dependency) Constraint() *VersionConstraint {
	if d.Version == "" {
		return nil
	}
	vc, err := ParseVersionConstraint(d.Version)
	if err != nil {
		return nil
	}
	return vc
}

// DisplayName returns Name, falling back to ID.
func (m Metadata) DisplayName() string {
	if strings.TrimSpace(m.Name) != "" {
		return m.Name
	}
	return m.ID
}

// HasPermission reports whether tag is among the declared permissions.
func (m Metadata) HasPermission(tag string) bool {
	for _, p := range m.Permissions {
		if p == tag {
			return true
		}
	}
	return false
}

// Validate checks field rules and cross-field constraints. Failures are
// returned as *errors.ValidationError naming the offending field.
func (m Metadata) Validate() error {
	if err := validatorInstance().Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return pulseerrors.NewValidationError(
				fieldPath(first.Namespace()),
				fmt.Sprintf("failed '%s' rule (value %v)", first.Tag(), first.Value()),
				err,
			)
		}
		return pulseerrors.NewValidationError("", err.Error(), err)
	}

	seen := make(map[string]struct{}, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		if dep.ID == m.ID {
			return pulseerrors.NewValidationError("dependencies", fmt.Sprintf("mod '%s' cannot depend on itself", m.ID), nil)
		}
		if _, dup := seen[dep.ID]; dup {
			return pulseerrors.NewValidationError("dependencies", fmt.Sprintf("mod '%s' lists dependency '%s' more than once", m.ID, dep.ID), nil)
		}
		seen[dep.ID] = struct{}{}
	}
	for _, conflict := range m.Conflicts {
		if _, ok := seen[conflict]; ok {
			return pulseerrors.NewValidationError("conflicts", fmt.Sprintf("mod '%s' both depends on and conflicts with '%s'", m.ID, conflict), nil)
		}
	}
	return nil
}

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})

		_ = v.RegisterValidation("mod_id", func(fl validator.FieldLevel) bool {
			return ValidID(fl.Field().String())
		})

		_ = v.RegisterValidation("version_constraint", func(fl validator.FieldLevel) bool {
			_, err := ParseVersionConstraint(fl.Field().String())
			return err == nil
		})

		validateInst = v
	})
	return validateInst
}

// ValidID reports whether id is a well-formed mod id.
func ValidID(id string) bool {
	return modIDPattern.MatchString(id)
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	_, rest, found := strings.Cut(namespace, ".")
	if !found {
		return namespace
	}
	return rest
}
