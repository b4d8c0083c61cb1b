package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the semantic type of an entry point parameter.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindString
	KindEnum
)

// Bound is an optional inclusive or exclusive numeric limit.
type Bound struct {
	Value     float64
	Exclusive bool
}

func Min(v float64) *Bound          { return &Bound{Value: v} }
func MinExclusive(v float64) *Bound { return &Bound{Value: v, Exclusive: true} }
func Max(v float64) *Bound          { return &Bound{Value: v} }

// ParamSpec describes one named parameter of an entry point schema.
type ParamSpec struct {
	Name     string
	Kind     Kind
	Required bool
	Default  any
	Min      *Bound
	Max      *Bound
	Enum     []string
}

// Schema is the fixed parameter table of one entry point plus its
// cross-parameter constraints.
type Schema struct {
	Params []ParamSpec
	// Check runs after per-parameter validation and may reject
	// contradictory combinations. It must return *ValidationError.
	Check func(p Params) *ValidationError
}

// Validate coerces raw values against the schema and fails fast on the
// first violation, naming the offending parameter and constraint.
// Raw values may be strings (CLI), JSON-decoded numbers, or native types.
func (s Schema) Validate(raw map[string]any) (Params, *ValidationError) {
	known := make(map[string]ParamSpec, len(s.Params))
	for _, spec := range s.Params {
		known[spec.Name] = spec
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := known[name]; !ok {
			return nil, &ValidationError{Param: name, Constraint: "unknown parameter"}
		}
	}

	out := make(Params, len(s.Params))
	for _, spec := range s.Params {
		value, present := raw[spec.Name]
		if !present || value == nil {
			if spec.Required {
				return nil, &ValidationError{Param: spec.Name, Constraint: "required parameter is missing"}
			}
			if spec.Default != nil {
				out[spec.Name] = spec.Default
			}
			continue
		}
		coerced, err := coerce(spec, value)
		if err != nil {
			return nil, err
		}
		out[spec.Name] = coerced
	}

	if s.Check != nil {
		if err := s.Check(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func coerce(spec ParamSpec, value any) (any, *ValidationError) {
	switch spec.Kind {
	case KindInt:
		n, ok := toInt(value)
		if !ok {
			return nil, &ValidationError{Param: spec.Name, Constraint: "must be an integer"}
		}
		if err := checkBounds(spec, float64(n)); err != nil {
			return nil, err
		}
		return n, nil
	case KindFloat:
		f, ok := toFloat(value)
		if !ok {
			return nil, &ValidationError{Param: spec.Name, Constraint: "must be a number"}
		}
		if err := checkBounds(spec, f); err != nil {
			return nil, err
		}
		return f, nil
	case KindBool:
		b, ok := toBool(value)
		if !ok {
			return nil, &ValidationError{Param: spec.Name, Constraint: "must be a boolean"}
		}
		return b, nil
	case KindString:
		str, ok := value.(string)
		if !ok {
			return nil, &ValidationError{Param: spec.Name, Constraint: "must be a string"}
		}
		if spec.Required && strings.TrimSpace(str) == "" {
			return nil, &ValidationError{Param: spec.Name, Constraint: "must not be empty"}
		}
		return str, nil
	case KindEnum:
		str, ok := value.(string)
		if !ok {
			return nil, &ValidationError{Param: spec.Name, Constraint: "must be a string"}
		}
		for _, allowed := range spec.Enum {
			if str == allowed {
				return str, nil
			}
		}
		return nil, &ValidationError{
			Param:      spec.Name,
			Constraint: fmt.Sprintf("must be one of [%s]", strings.Join(spec.Enum, ", ")),
		}
	default:
		return nil, &ValidationError{Param: spec.Name, Constraint: "unsupported parameter kind"}
	}
}

func checkBounds(spec ParamSpec, v float64) *ValidationError {
	if spec.Min != nil {
		if spec.Min.Exclusive && v <= spec.Min.Value {
			return &ValidationError{Param: spec.Name, Constraint: fmt.Sprintf("must be > %v", spec.Min.Value)}
		}
		if !spec.Min.Exclusive && v < spec.Min.Value {
			return &ValidationError{Param: spec.Name, Constraint: fmt.Sprintf("must be >= %v", spec.Min.Value)}
		}
	}
	if spec.Max != nil {
		if spec.Max.Exclusive && v >= spec.Max.Value {
			return &ValidationError{Param: spec.Name, Constraint: fmt.Sprintf("must be < %v", spec.Max.Value)}
		}
		if !spec.Max.Exclusive && v > spec.Max.Value {
			return &ValidationError{Param: spec.Name, Constraint: fmt.Sprintf("must be <= %v", spec.Max.Value)}
		}
	}
	return nil
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}
