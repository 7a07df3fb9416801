package envstruct

import (
	"log/slog"
	"reflect"
	"strconv"
	"time"

	"github.com/sunridge/fieldtrack/internal/errors"
)

var (
	ErrEnvNotSet    = errors.NewSentinel("environment variable not set")
	ErrInvalidValue = errors.NewSentinel("v must be a pointer to a struct")
)

// Populate populates the fields of the pointer to struct v with values from the environment.
//
// lookupEnv is used to look up environment variables. It has the same signature as [os.LookupEnv].
// Fields in the struct v must be tagged with `env:"ENV_VAR"` where ENV_VAR is the name of the environment variable.
// If no environment variable matching ENV_VAR is provided, the field must be tagged with default value
// `envDefault:"value"` or else ErrEnvNotSet is returned.
//
// Supported field types are string, bool, int, float64, and [time.Duration].
func Populate(v any, lookupEnv func(string) (string, bool)) error {
	ptrRef := reflect.ValueOf(v)
	if ptrRef.Kind() != reflect.Ptr {
		return errors.Wrap(ErrInvalidValue, "not pointer", slog.Any("v", v))
	}
	ref := ptrRef.Elem()
	if ref.Kind() != reflect.Struct {
		return errors.Wrap(ErrInvalidValue, "not struct", slog.Any("v", v))
	}

	refType := ref.Type()

	var (
		errorList  []error
		ok         bool
		envVarName string
	)

	for i := 0; i < refType.NumField(); i++ {
		refField := ref.Field(i)
		refTypeField := refType.Field(i)
		tag := refTypeField.Tag

		envVarName, ok = tag.Lookup("env")
		if ok {
			if !refField.CanSet() {
				errorList = append(errorList, errors.Wrap(ErrInvalidValue, "cannot set field",
					slog.String("fieldName", refTypeField.Name)))
				continue
			}

			val, err := envLookupWithFallback(envVarName, tag, lookupEnv)
			if err != nil {
				errorList = append(errorList, err)
				continue
			}

			if err = setField(refField, val); err != nil {
				errorList = append(errorList, errors.Wrap(err, "set field",
					slog.String("envVarName", envVarName),
					slog.String("fieldName", refTypeField.Name),
				))
			}
		}
	}

	if len(errorList) != 0 {
		// Join the errors into a single error.
		return errors.Join(errorList...)
	}

	return nil
}

// setField converts the environment variable value to the field's type.
func setField(field reflect.Value, val string) error {
	// time.Duration is an int64, so it must be checked before the integer kinds.
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		duration, err := time.ParseDuration(val)
		if err != nil {
			return errors.Join(ErrInvalidValue, err)
		}
		field.SetInt(int64(duration))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(val)
	case reflect.Bool:
		boolean, err := strconv.ParseBool(val)
		if err != nil {
			return errors.Join(ErrInvalidValue, err)
		}
		field.SetBool(boolean)
	case reflect.Int, reflect.Int64:
		integer, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return errors.Join(ErrInvalidValue, err)
		}
		field.SetInt(integer)
	case reflect.Float64:
		float, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return errors.Join(ErrInvalidValue, err)
		}
		field.SetFloat(float)
	default:
		return errors.Wrap(ErrInvalidValue, "unsupported field type",
			slog.String("fieldType", field.Kind().String()))
	}
	return nil
}

func envLookupWithFallback(
	envVarName string, tag reflect.StructTag, lookupEnv func(string) (string, bool)) (string, error) {
	envVarValue, ok := lookupEnv(envVarName)
	if !ok {
		envVarValue, ok = tag.Lookup("envDefault")
		if !ok {
			return "", errors.Wrap(ErrEnvNotSet, "environment variable not set", slog.String("envVarName", envVarName))
		}
	}
	return envVarValue, nil
}
