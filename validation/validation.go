package validation

import (
	stderrors "errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/kbukum/execkit/errors"
)

var (
	validate *validator.Validate
	once     sync.Once
)

// FieldError describes one failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func get() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(keyName)
	})
	return validate
}

// keyName reports fields by their config key.
func keyName(fld reflect.StructField) string {
	for _, tag := range []string{"mapstructure", "yaml"} {
		name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return toSnakeCase(fld.Name)
}

// Struct validates s. A missing required field yields MISSING_FIELD, any
// other failure INVALID_INPUT; every failure is listed in the "fields"
// detail.
func Struct(s any) error {
	err := get().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) || len(verrs) == 0 {
		return errors.InvalidInput("config", err.Error()).WithCause(err)
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, e := range verrs {
		fields = append(fields, FieldError{Field: e.Field(), Message: message(e)})
	}

	first := verrs[0]
	var appErr *errors.AppError
	if isRequired(first.Tag()) {
		appErr = errors.MissingField(first.Field())
	} else {
		appErr = errors.InvalidInput(first.Field(), fields[0].Message)
	}
	return appErr.WithDetail("fields", fields)
}

func isRequired(tag string) bool {
	return tag == "required" || strings.HasPrefix(tag, "required_")
}

func message(e validator.FieldError) string {
	switch tag := e.Tag(); {
	case isRequired(tag):
		return "is required"
	case tag == "min":
		return "must be at least " + e.Param()
	case tag == "max":
		return "must be at most " + e.Param()
	case tag == "oneof":
		return "must be one of: " + e.Param()
	case tag == "file":
		return "must name an existing file"
	case tag == "dir":
		return "must name an existing directory"
	default:
		return "is invalid (" + tag + ")"
	}
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
