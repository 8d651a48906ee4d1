// Package eval wraps a sandboxed expression evaluator: given a source
// string and an environment of string→real, return a result tuple or an
// error. No filesystem or network primitive is ever exposed to the
// evaluated expression.
package eval

import (
	"fmt"

	"github.com/expr-lang/expr"
)

// Env is the "mt" mapping handed to an evaluated expression: topic string
// to its most recent non-expired cached value.
type Env struct {
	Mt map[string]float64 `expr:"mt"`
}

// Result is the tuple an expression must return: output topic, computed
// value, unit. A fourth element is accepted and ignored.
type Result struct {
	Topic string
	Value float64
	Unit  string
}

// Evaluate compiles and runs source against env. Compilation happens on
// every call, trading throughput for per-message isolation: the evaluator
// is reinstantiated per message so no state carries across evaluations.
func Evaluate(source string, env map[string]float64) (Result, error) {
	program, err := expr.Compile(source, expr.Env(Env{}), expr.AllowUndefinedVariables())
	if err != nil {
		return Result{}, fmt.Errorf("compiling expression: %w", err)
	}

	out, err := expr.Run(program, Env{Mt: env})
	if err != nil {
		return Result{}, fmt.Errorf("evaluating expression: %w", err)
	}

	return parseResult(out)
}

// parseResult accepts the tuple shapes expr naturally produces for an
// expression ending in an array literal: []interface{} of length 3 or 4,
// whose first three elements are (topic, value, unit).
func parseResult(out interface{}) (Result, error) {
	tuple, ok := out.([]interface{})
	if !ok {
		return Result{}, fmt.Errorf("expression did not return a tuple, got %T", out)
	}
	if len(tuple) != 3 && len(tuple) != 4 {
		return Result{}, fmt.Errorf("expression returned %d values, want 3 or 4", len(tuple))
	}

	topic, ok := tuple[0].(string)
	if !ok {
		return Result{}, fmt.Errorf("expression's first return value must be a string topic, got %T", tuple[0])
	}
	value, err := toFloat(tuple[1])
	if err != nil {
		return Result{}, fmt.Errorf("expression's second return value must be numeric: %w", err)
	}
	unit, ok := tuple[2].(string)
	if !ok {
		return Result{}, fmt.Errorf("expression's third return value must be a string unit, got %T", tuple[2])
	}

	return Result{Topic: topic, Value: value, Unit: unit}, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// MeanWithOffset builds the fixed averaging expression ConfigEmitter
// renders for every composite-metric definition: the mean of the
// *currently present* cached input topics plus a constant calibration
// offset. Inputs with no fresh cache entry are excluded from both the sum
// and the count — a single live sample is sufficient to produce a result.
func MeanWithOffset(outputTopic string, inputTopics []string, offset float64, unit string) string {
	sum := "0.0"
	count := "0"
	for _, topic := range inputTopics {
		sum = fmt.Sprintf("%s + (%q in mt ? mt[%q] : 0.0)", sum, topic, topic)
		count = fmt.Sprintf("%s + (%q in mt ? 1 : 0)", count, topic)
	}
	return fmt.Sprintf("[%q, (%s) / (%s > 0 ? %s : 1) + %v, %q, 0]", outputTopic, sum, count, count, offset, unit)
}
