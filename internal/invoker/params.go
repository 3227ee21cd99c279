package invoker

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/schema"

	"github.com/pitabwire/restkit/codec"
	"github.com/pitabwire/restkit/model"
)

// ParamTag names the struct tag BindStruct reads parameter names from.
const ParamTag = "param"

var (
	validate      = validator.New(validator.WithRequiredStructEnabled())
	schemaEncoder = schema.NewEncoder()
)

func init() {
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get(ParamTag), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	schemaEncoder.SetAliasTag(ParamTag)
	schemaEncoder.RegisterEncoder(time.Time{}, func(v reflect.Value) string {
		return codec.FormatTime(v.Interface().(time.Time), codec.RFC3339)
	})
	schemaEncoder.RegisterEncoder(&time.Time{}, func(v reflect.Value) string {
		if v.IsNil() {
			return ""
		}
		return codec.FormatTime(*v.Interface().(*time.Time), codec.RFC3339)
	})
}

// BindStruct validates a parameter struct and converts it into Params.
// Fields are named by their `param` tag and checked against `validate`
// tags; failures become a validation error listing every field.
func BindStruct(operation string, v any) (model.Params, error) {
	if err := validate.Struct(v); err != nil {
		var valErrs validator.ValidationErrors
		if !errors.As(err, &valErrs) {
			return nil, fmt.Errorf("invoker: validate %T: %w", v, err)
		}
		details := make([]model.FieldError, 0, len(valErrs))
		for _, ve := range valErrs {
			details = append(details, model.FieldError{
				Field:   ve.Field(),
				Code:    strings.ToUpper(ve.Tag()),
				Message: formatValidationError(ve),
			})
		}
		return nil, model.NewValidationError(operation, details)
	}

	params := make(model.Params)
	if err := schemaEncoder.Encode(v, params); err != nil {
		return nil, fmt.Errorf("invoker: encode %T: %w", v, err)
	}
	return params, nil
}

func formatValidationError(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", ve.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", ve.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", ve.Param())
	default:
		return fmt.Sprintf("failed %q validation", ve.Tag())
	}
}
