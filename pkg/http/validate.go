package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

// newValidator reports fields by their json names, the names clients send.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// ruleMessages maps a validate tag to a message taking the field name and the tag parameter.
var ruleMessages = map[string]string{
	"required": "%s is required",
	"gt":       "%s must be greater than %s",
	"gte":      "%s must be at least %s",
	"lt":       "%s must be less than %s",
	"lte":      "%s must be at most %s",
	"min":      "%s must be at least %s",
	"max":      "%s must be at most %s",
	"len":      "%s must have exactly %s items",
	"oneof":    "%s must be one of: %s",
}

// ReadAndValidateRequest binds the JSON body into req, fills `default` tags, then checks
// `validate` tags. It returns nil when req is usable, otherwise every problem found.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		return []ValidationError{bodyError(err)}
	}
	if err := defaults.Set(req); err != nil {
		return []ValidationError{{Code: "ERR_DEFAULTS", Message: err.Error()}}
	}
	err := validate.StructCtx(c.Request().Context(), req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Code: "ERR_VALIDATE", Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, fieldError(fe))
	}
	return out
}

// bodyError reports a body that could not be decoded at all.
func bodyError(err error) ValidationError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return ValidationError{Code: "ERR_BODY", Message: fmt.Sprint(he.Message)}
	}
	return ValidationError{Code: "ERR_BODY", Message: err.Error()}
}

func fieldError(fe validator.FieldError) ValidationError {
	tag, param := fe.Tag(), fe.Param()
	if tag == "oneof" {
		param = strings.Join(strings.Fields(param), ", ")
	}

	msg := fmt.Sprintf("%s failed validation: %s", fe.Field(), tag)
	if format, ok := ruleMessages[tag]; ok {
		if strings.Count(format, "%s") == 2 {
			msg = fmt.Sprintf(format, fe.Field(), param)
		} else {
			msg = fmt.Sprintf(format, fe.Field())
		}
	}

	ve := ValidationError{Code: "ERR_" + strings.ToUpper(tag), Field: fe.Field(), Message: msg}
	if fe.Param() != "" {
		ve.Params = map[string]interface{}{"limit": fe.Param()}
		if tag == "oneof" {
			ve.Params = map[string]interface{}{"options": strings.Fields(fe.Param())}
		}
	}
	return ve
}
