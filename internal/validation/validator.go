// Package validation checks loosely typed request payloads against declared
// per-field rules and reports every violated field at once.
//
// Rules are written as a "|" separated conjunction of named constraints, for
// example "required|email|max:255". Each constraint maps onto a
// go-playground/validator tag; "array" and "string" are registered as custom
// validations. A successful run yields an opaque Validated value, which is the
// only input the services layer accepts for building commands.
package validation

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Rules maps a dotted field path (e.g. "user.email") to its constraints.
type Rules map[string]string

// Errors maps a field path to its ordered list of messages.
// A non-empty Errors means the payload must not proceed.
type Errors map[string][]string

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(e[f], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends msg to field.
func (e Errors) Add(field, msg string) {
	e[field] = append(e[field], msg)
}

// Validated is a payload that passed Validate. The zero value is not valid.
type Validated struct {
	data map[string]any
	ok   bool
}

// Valid reports whether v was produced by a successful Validate call.
func (v Validated) Valid() bool { return v.ok }

// Value returns the value at a dotted path.
func (v Validated) Value(path string) (any, bool) {
	return lookup(v.data, path)
}

// String returns the string at path, or "" when absent or not a string.
func (v Validated) String(path string) string {
	raw, _ := v.Value(path)
	s, _ := raw.(string)
	return s
}

// Object returns the JSON object at path, or nil when absent or not an object.
func (v Validated) Object(path string) map[string]any {
	raw, _ := v.Value(path)
	m, _ := raw.(map[string]any)
	return m
}

type rule struct {
	name  string
	param string
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("array", func(fl validator.FieldLevel) bool {
		k := fl.Field().Kind()
		return k == reflect.Map || k == reflect.Slice || k == reflect.Array
	})
	_ = v.RegisterValidation("string", func(fl validator.FieldLevel) bool {
		return fl.Field().Kind() == reflect.String
	})
	return v
}

// Validate evaluates every field in rules against payload.
//
// String values are trimmed of surrounding whitespace before any rule runs,
// and the trimmed copy is what Validated exposes. payload is not modified.
//
// It returns Errors when at least one field fails, and a plain error when a
// rule set is malformed (unknown rule name or bad parameter).
func Validate(payload map[string]any, rules Rules) (Validated, error) {
	payload = trimStrings(payload)

	parsed := make(map[string][]rule, len(rules))
	for field, expr := range rules {
		rs, err := parseRules(expr)
		if err != nil {
			return Validated{}, fmt.Errorf("validation: field %q: %w", field, err)
		}
		parsed[field] = rs
	}

	fields := make([]string, 0, len(parsed))
	for f := range parsed {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	errs := Errors{}
	for _, field := range fields {
		value, present := lookup(payload, field)
		if !present || isEmpty(value) {
			if hasRule(parsed[field], "required") {
				errs.Add(field, "is required")
			}
			continue
		}
		for _, r := range parsed[field] {
			if r.name == "required" {
				continue
			}
			if (r.name == "min" || r.name == "max") && !sizable(value) {
				errs.Add(field, "is invalid")
				continue
			}
			if err := validate.Var(value, r.tag()); err != nil {
				errs.Add(field, message(r, value))
			}
		}
	}

	if len(errs) > 0 {
		return Validated{}, errs
	}
	return Validated{data: payload, ok: true}, nil
}

func parseRules(expr string) ([]rule, error) {
	var out []rule
	for _, part := range strings.Split(expr, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, param, _ := strings.Cut(part, ":")
		switch name {
		case "required", "email", "array", "string", "uuid":
			if param != "" {
				return nil, fmt.Errorf("rule %q takes no parameter", name)
			}
		case "min", "max":
			if _, err := strconv.Atoi(param); err != nil {
				return nil, fmt.Errorf("rule %q needs an integer parameter, got %q", name, param)
			}
		default:
			return nil, fmt.Errorf("unknown rule %q", name)
		}
		out = append(out, rule{name: name, param: param})
	}
	return out, nil
}

func (r rule) tag() string {
	if r.param != "" {
		return r.name + "=" + r.param
	}
	return r.name
}

func hasRule(rs []rule, name string) bool {
	for _, r := range rs {
		if r.name == name {
			return true
		}
	}
	return false
}

func message(r rule, value any) string {
	kind := reflect.ValueOf(value).Kind()
	switch r.name {
	case "email":
		return "must be a valid email address"
	case "uuid":
		return "must be a valid UUID"
	case "array":
		return "must be an object or a list"
	case "string":
		return "must be a string"
	case "min":
		switch kind {
		case reflect.String:
			return fmt.Sprintf("must be at least %s characters", r.param)
		case reflect.Map, reflect.Slice, reflect.Array:
			return fmt.Sprintf("must contain at least %s items", r.param)
		default:
			return fmt.Sprintf("must be at least %s", r.param)
		}
	case "max":
		switch kind {
		case reflect.String:
			return fmt.Sprintf("must not exceed %s characters", r.param)
		case reflect.Map, reflect.Slice, reflect.Array:
			return fmt.Sprintf("must not contain more than %s items", r.param)
		default:
			return fmt.Sprintf("must not exceed %s", r.param)
		}
	}
	return "is invalid"
}

func lookup(data map[string]any, path string) (any, bool) {
	if data == nil {
		return nil, false
	}
	var cur any = data
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// sizable reports whether min/max can measure v.
func sizable(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.String, reflect.Map, reflect.Slice, reflect.Array,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

// trimStrings returns a deep copy of m with every string leaf trimmed.
func trimStrings(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = trimValue(v)
	}
	return out
}

func trimValue(v any) any {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return trimStrings(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = trimValue(e)
		}
		return out
	}
	return v
}
