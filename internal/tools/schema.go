package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
)

// JSON schema primitive types understood by the validator.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`

	// Numeric bounds. Exclusive flags turn the bound into a strict inequality.
	Minimum          *float64 `json:"minimum,omitempty"`
	Maximum          *float64 `json:"maximum,omitempty"`
	ExclusiveMinimum bool     `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum bool     `json:"exclusiveMaximum,omitempty"`

	// Items describes array element schema (required for type="array")
	Items *Property `json:"items,omitempty"`
}

// Schema defines the JSON schema for tool arguments.
type Schema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required,omitempty"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// Bound returns a pointer for use as a Minimum or Maximum.
func Bound(v float64) *float64 { return &v }

// PropertyNames returns the schema's property names in sorted order.
func (s Schema) PropertyNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// check validates the schema itself.
func (s Schema) check() error {
	for _, req := range s.Required {
		if _, ok := s.Properties[req]; !ok {
			return fmt.Errorf("%w: required %q has no property", ErrInvalidSchema, req)
		}
	}
	for name, p := range s.Properties {
		if err := p.check(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidSchema, name, err)
		}
	}
	return nil
}

func (p Property) check() error {
	switch p.Type {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeObject:
	case TypeArray:
		if p.Items == nil {
			return fmt.Errorf("array property needs items")
		}
		return p.Items.check()
	default:
		return fmt.Errorf("unknown type %q", p.Type)
	}
	if p.Minimum != nil && p.Maximum != nil && *p.Minimum > *p.Maximum {
		return fmt.Errorf("minimum %v above maximum %v", *p.Minimum, *p.Maximum)
	}
	return nil
}

// Validate checks args against the schema and returns a normalized copy.
// Numbers become float64 (number) or int64 (integer), missing optional
// arguments take their defaults, and arguments the schema does not declare
// are dropped.
func (s Schema) Validate(args map[string]any) (map[string]any, error) {
	for _, req := range s.Required {
		if v, ok := args[req]; !ok || v == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingRequiredArg, req)
		}
	}

	out := make(map[string]any, len(s.Properties))
	for _, name := range s.PropertyNames() {
		prop := s.Properties[name]
		v, ok := args[name]
		if !ok || v == nil {
			if prop.Default != nil {
				out[name] = prop.Default
			}
			continue
		}
		val, err := prop.coerce(name, v)
		if err != nil {
			return nil, err
		}
		out[name] = val
	}
	return out, nil
}

func (p Property) coerce(name string, v any) (any, error) {
	switch p.Type {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidArgType, name, v)
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
			return nil, fmt.Errorf("%w: %s must be one of %v, got %q", ErrInvalidEnumValue, name, p.Enum, s)
		}
		return s, nil

	case TypeNumber, TypeInteger:
		f, ok := toFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %s must be a %s, got %T", ErrInvalidArgType, name, p.Type, v)
		}
		if p.Type == TypeInteger && f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidArgType, name, f)
		}
		if err := p.checkRange(name, f); err != nil {
			return nil, err
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, strconv.FormatFloat(f, 'f', -1, 64)) {
			return nil, fmt.Errorf("%w: %s must be one of %v, got %v", ErrInvalidEnumValue, name, p.Enum, f)
		}
		if p.Type == TypeInteger {
			return int64(f), nil
		}
		return f, nil

	case TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a boolean, got %T", ErrInvalidArgType, name, v)
		}
		return b, nil

	case TypeArray:
		items, ok := toSlice(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be an array, got %T", ErrInvalidArgType, name, v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			val, err := p.Items.coerce(fmt.Sprintf("%s[%d]", name, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil

	case TypeObject:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be an object, got %T", ErrInvalidArgType, name, v)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s has unsupported type %q", ErrInvalidSchema, name, p.Type)
}

func (p Property) checkRange(name string, f float64) error {
	if p.Minimum != nil {
		lo := *p.Minimum
		if (p.ExclusiveMinimum && f <= lo) || (!p.ExclusiveMinimum && f < lo) {
			op := ">="
			if p.ExclusiveMinimum {
				op = ">"
			}
			return fmt.Errorf("%w: %s must be %s %v, got %v", ErrArgOutOfRange, name, op, lo, f)
		}
	}
	if p.Maximum != nil {
		hi := *p.Maximum
		if (p.ExclusiveMaximum && f >= hi) || (!p.ExclusiveMaximum && f > hi) {
			op := "<="
			if p.ExclusiveMaximum {
				op = "<"
			}
			return fmt.Errorf("%w: %s must be %s %v, got %v", ErrArgOutOfRange, name, op, hi, f)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	}
	return nil, false
}

// =============================================================================
// Argument accessors for handlers. They assume Validate already ran.
// =============================================================================

// StringArg returns a string argument or "".
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// IntArg returns an integer argument or fallback.
func IntArg(args map[string]any, name string, fallback int64) int64 {
	if f, ok := toFloat(args[name]); ok {
		return int64(f)
	}
	return fallback
}

// FloatArg returns a numeric argument or fallback.
func FloatArg(args map[string]any, name string, fallback float64) float64 {
	if f, ok := toFloat(args[name]); ok {
		return f
	}
	return fallback
}

// BoolArg returns a boolean argument or fallback.
func BoolArg(args map[string]any, name string, fallback bool) bool {
	if b, ok := args[name].(bool); ok {
		return b
	}
	return fallback
}
