// Package validator wraps go-playground/validator with JSON field names and the rules used by
// request payloads such as queued actions.
package validator

import (
	"errors"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationError describes one failed rule, keyed by the JSON field name.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

func (e ValidationError) String() string {
	if e.Param == "" {
		return e.Field + " failed on " + e.Tag
	}
	return e.Field + " failed on " + e.Tag + "=" + e.Param
}

// ValidationErrors is returned by ValidateStruct when at least one rule fails.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	var b strings.Builder
	for i, failure := range v {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(failure.String())
	}
	return b.String()
}

var (
	initOnce sync.Once
	instance *validator.Validate
)

// customRules are registered on first use alongside the built-in tags.
var customRules = map[string]validator.Func{
	"httpmethod": isReplayMethod,
	"replayurl":  isReplayURL,
}

// ValidateStruct runs the struct's validate tags.
func ValidateStruct(s any) error {
	err := engine().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(ValidationErrors, len(fieldErrs))
	for i, fe := range fieldErrs {
		out[i] = ValidationError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param()}
	}
	return out
}

// RegisterValidation adds a custom rule under tag.
func RegisterValidation(tag string, fn validator.Func) error {
	return engine().RegisterValidation(tag, fn)
}

func engine() *validator.Validate {
	initOnce.Do(func() {
		instance = validator.New()
		instance.RegisterTagNameFunc(jsonFieldName)
		for tag, fn := range customRules {
			_ = instance.RegisterValidation(tag, fn)
		}
	})
	return instance
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}

// isReplayMethod accepts an empty value or a mutating verb a pending action can be replayed with.
func isReplayMethod(fl validator.FieldLevel) bool {
	switch strings.ToUpper(strings.TrimSpace(fl.Field().String())) {
	case "", http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// isReplayURL accepts an empty value or an absolute http(s) URL.
func isReplayURL(fl validator.FieldLevel) bool {
	raw := strings.TrimSpace(fl.Field().String())
	if raw == "" {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
