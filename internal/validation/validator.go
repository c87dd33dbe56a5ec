package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MsgRequired is reported for every missing required field
const MsgRequired = "This field is required"

// ErrorMap maps a field name to a human-readable message. Empty means valid.
type ErrorMap map[string]string

// Empty reports whether no field failed
func (m ErrorMap) Empty() bool {
	return len(m) == 0
}

// Merge copies other into m, overwriting existing keys
func (m ErrorMap) Merge(other map[string]string) ErrorMap {
	if m == nil {
		m = make(ErrorMap, len(other))
	}
	for k, v := range other {
		m[k] = v
	}
	return m
}

// Clone returns an independent copy
func (m ErrorMap) Clone() ErrorMap {
	return make(ErrorMap, len(m)).Merge(m)
}

// Only keeps the given keys
func (m ErrorMap) Only(keys ...string) ErrorMap {
	out := make(ErrorMap)
	for _, k := range keys {
		if msg, ok := m[k]; ok {
			out[k] = msg
		}
	}
	return out
}

// Validator validates structs using `validate` tags. Fields are keyed by
// their json name.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) (ErrorMap, error) {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("validate expects a struct, got %s", val.Kind())
	}

	typ := val.Type()
	errs := make(ErrorMap)

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if msg := v.validateField(field, tag); msg != "" {
			errs[fieldName(fieldType)] = msg
		}
	}

	return errs, nil
}

// validateField returns the message of the first failing rule
func (v *Validator) validateField(field reflect.Value, tag string) string {
	rules := strings.Split(tag, ",")

	for _, rule := range rules {
		parts := strings.SplitN(rule, "=", 2)
		ruleName := parts[0]
		param := ""
		if len(parts) == 2 {
			param = parts[1]
		}

		switch ruleName {
		case "required":
			if isBlank(field) {
				return MsgRequired
			}

		case "oneof":
			if field.Kind() != reflect.String || isBlank(field) {
				continue
			}
			options := strings.Split(param, "|")
			if !containsFold(options, strings.TrimSpace(field.String())) {
				return "Must be one of: " + strings.Join(options, ", ")
			}

		case "min":
			n, err := strconv.Atoi(param)
			if err != nil {
				continue
			}
			if field.Kind() == reflect.String && utf8.RuneCountInString(strings.TrimSpace(field.String())) < n {
				return fmt.Sprintf("Must be at least %d characters", n)
			}

		case "max":
			n, err := strconv.Atoi(param)
			if err != nil {
				continue
			}
			if field.Kind() == reflect.String && utf8.RuneCountInString(strings.TrimSpace(field.String())) > n {
				return fmt.Sprintf("Must be at most %d characters", n)
			}
		}
	}

	return ""
}

func isBlank(field reflect.Value) bool {
	if field.Kind() == reflect.String {
		return strings.TrimSpace(field.String()) == ""
	}
	return field.IsZero()
}

func containsFold(options []string, s string) bool {
	for _, o := range options {
		if strings.EqualFold(o, s) {
			return true
		}
	}
	return false
}

func fieldName(f reflect.StructField) string {
	name := strings.Split(f.Tag.Get("json"), ",")[0]
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}
