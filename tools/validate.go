package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// compileSchema compiles the parameter schema of d for argument validation.
func compileSchema(d Descriptor) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.ParametersSchema()))
}

// prepareArgs applies defaults and type coercion to raw arguments, then
// validates the result against schema. Unknown keys are rejected.
//
// Coercion: integer accepts whole floats and numeric strings, number
// accepts integers and numeric strings, boolean accepts "true"/"false".
// Every other mismatch is a validation failure.
func prepareArgs(d Descriptor, schema *gojsonschema.Schema, raw map[string]any) (Args, error) {
	declared := make(map[string]Param, len(d.Params))
	for _, p := range d.Params {
		declared[p.Name] = p
	}

	var problems []string
	var unknown []string
	for key := range raw {
		if _, ok := declared[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		problems = append(problems, fmt.Sprintf("unexpected argument %q", key))
	}

	args := make(Args, len(d.Params))
	for _, p := range d.Params {
		v, ok := raw[p.Name]
		if !ok || v == nil {
			if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}
		coerced, err := coerce(p.Type, v)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		args[p.Name] = coerced
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Tool: d.Name, Problems: problems}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(map[string]any(args)))
	if err != nil {
		return nil, &ValidationError{Tool: d.Name, Cause: err}
	}
	if !result.Valid() {
		for _, re := range result.Errors() {
			problems = append(problems, re.String())
		}
		return nil, &ValidationError{Tool: d.Name, Problems: problems}
	}
	return args, nil
}

func coerce(t ParamType, v any) (any, error) {
	switch t {
	case TypeInteger:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("expected integer, got %v", n)
			}
			return int(n), nil
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", n.String())
			}
			return int(i), nil
		case string:
			i, err := strconv.Atoi(strings.TrimSpace(n))
			if err != nil {
				return nil, fmt.Errorf("expected integer, got %q", n)
			}
			return i, nil
		}
		return nil, fmt.Errorf("expected integer, got %T", v)

	case TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", n.String())
			}
			return f, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, fmt.Errorf("expected number, got %q", n)
			}
			return f, nil
		}
		return nil, fmt.Errorf("expected number, got %T", v)

	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("expected boolean, got %T", v)
	}

	// Strings, arrays and objects are checked by the schema as given.
	return v, nil
}
