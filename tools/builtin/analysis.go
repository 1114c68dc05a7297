package builtin

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/martinemde/observagent/tools"
)

var calculateDescriptor = tools.Descriptor{
	Name: "calculate",
	Description: "Executes a basic arithmetic or exponentiation operation. Use for any math: " +
		"percentages, growth rates, compound interest, splits, or simple arithmetic. " +
		"Example: for 'What is 15% of 200?', use operation='multiply', operand_a=200, operand_b=0.15.",
	Category: CategoryAnalysis,
	Params: []tools.Param{
		{
			Name: "operation", Type: tools.TypeString, Required: true,
			Description: "The arithmetic operation. 'pow' raises operand_a to the power of operand_b.",
			Enum:        []string{"add", "subtract", "multiply", "divide", "pow"},
		},
		{Name: "operand_a", Type: tools.TypeNumber, Required: true, Description: "The first operand (base for 'pow')."},
		{Name: "operand_b", Type: tools.TypeNumber, Required: true, Description: "The second operand (exponent for 'pow', divisor for 'divide')."},
	},
}

// CalculationResult is the structured outcome of calculate. It always
// reports failures in Error instead of failing the call, so the model can
// read and react to them.
type CalculationResult struct {
	Success bool     `json:"success"`
	Result  *float64 `json:"result"`
	Error   string   `json:"error,omitempty"`
}

func calculate(_ context.Context, args tools.Args) (any, error) {
	a, b := args.Float("operand_a"), args.Float("operand_b")

	var v float64
	switch op := args.String("operation"); op {
	case "add":
		v = a + b
	case "subtract":
		v = a - b
	case "multiply":
		v = a * b
	case "divide":
		if b == 0 {
			return CalculationResult{Error: "Division by zero is undefined."}, nil
		}
		v = a / b
	case "pow":
		v = math.Pow(a, b)
	default:
		return CalculationResult{Error: fmt.Sprintf("Unknown operation %q.", op)}, nil
	}

	if math.IsInf(v, 0) || math.IsNaN(v) {
		return CalculationResult{Error: "Result is not a finite number."}, nil
	}
	return CalculationResult{Success: true, Result: &v}, nil
}

var describeNumbersDescriptor = tools.Descriptor{
	Name:        "describe_numbers",
	Description: "Summarize a list of numbers: count, min, max, mean, and median.",
	Category:    CategoryAnalysis,
	Params: []tools.Param{
		{Name: "values", Type: tools.TypeArray, Items: tools.TypeNumber, Required: true, Description: "The numbers to summarize."},
	},
}

// NumberSummary is the result of describe_numbers.
type NumberSummary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
}

func describeNumbers(_ context.Context, args tools.Args) (any, error) {
	var values []float64
	switch raw := args["values"].(type) {
	case []float64:
		values = append(values, raw...)
	case []any:
		for _, item := range raw {
			f, ok := toFloat(item)
			if !ok {
				return nil, fmt.Errorf("values must be numbers, got %T", item)
			}
			values = append(values, f)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("values must contain at least one number")
	}
	sort.Float64s(values)

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	n := len(values)
	median := values[n/2]
	if n%2 == 0 {
		median = (values[n/2-1] + values[n/2]) / 2
	}
	return NumberSummary{
		Count:  n,
		Min:    values[0],
		Max:    values[n-1],
		Mean:   sum / float64(n),
		Median: median,
	}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
