package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ErrValidation marks input that does not satisfy a tool's definition.
var ErrValidation = errors.New("invalid tool input")

// Parameter types.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
)

// Param describes one tool input parameter.
type Param struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Definition describes a tool to the planner and to API clients.
type Definition struct {
	Name        string   `json:"tool_name"`
	Description string   `json:"description"`
	Params      []Param  `json:"input_parameters"`
	Outputs     []string `json:"outputs"`
}

// Validate checks input against the definition and returns a copy with
// defaults applied and values coerced to the declared types. Unknown
// parameters are dropped.
func (d Definition) Validate(input map[string]any) (Input, error) {
	out := make(Input, len(d.Params))
	for _, p := range d.Params {
		v, ok := input[p.Name]
		if !ok || v == nil {
			if p.Required {
				return nil, fmt.Errorf("%w: %s: missing required parameter %q", ErrValidation, d.Name, p.Name)
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}

		cv, err := coerce(p.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: parameter %q: %v", ErrValidation, d.Name, p.Name, err)
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, fmt.Sprint(cv)) {
			return nil, fmt.Errorf("%w: %s: parameter %q must be one of %s", ErrValidation, d.Name, p.Name, strings.Join(p.Enum, ", "))
		}
		out[p.Name] = cv
	}
	return out, nil
}

// coerce converts v to the declared type. Planners often emit numbers as
// strings and vice versa, so both directions are accepted.
func coerce(typ string, v any) (any, error) {
	switch typ {
	case TypeString, "":
		switch x := v.(type) {
		case string:
			return x, nil
		case float64, int, int64, bool, json.Number:
			return fmt.Sprint(x), nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)

	case TypeNumber:
		return toFloat(v)

	case TypeInteger:
		f, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer, got %v", f)
		}
		if f < math.MinInt || f >= -math.MinInt {
			return nil, fmt.Errorf("integer %v out of range", f)
		}
		return int(f), nil

	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", x)
			}
			return b, nil
		}
		return nil, fmt.Errorf("expected boolean, got %T", v)
	}
	return v, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

// String returns the string parameter name, or "" when absent.
func (in Input) String(name string) string {
	s, _ := in[name].(string)
	return s
}

// Float returns the number parameter name, or 0 when absent.
func (in Input) Float(name string) float64 {
	f, _ := toFloat(in[name])
	return f
}

// Int returns the integer parameter name, or 0 when absent.
func (in Input) Int(name string) int {
	switch x := in[name].(type) {
	case int:
		return x
	case float64:
		return int(x)
	}
	return 0
}

// Bool returns the boolean parameter name, or false when absent.
func (in Input) Bool(name string) bool {
	b, _ := in[name].(bool)
	return b
}
