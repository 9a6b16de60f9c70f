package spider2

// file expression.go holds the symbolic expression type used for edge rates,
// delay values, parameter derivations, and vertex timings.  Expressions are
// compiled once against the parameter list of the graph that owns them, and
// evaluated against the (possibly re-resolved) parameter copies of a firing.

import (
	"fmt"
	"math"
	"strings"

	"github.com/Knetic/govaluate"
)

// An Expression wraps a compiled arithmetic expression over graph parameters.
// Expressions whose referenced parameters are all static are folded to a
// constant at compile time.  An expression is dynamic when at least one
// referenced parameter is dynamic (or derives from one); dynamic expressions
// must be re-evaluated per firing once the parameters are known.
type Expression struct {
	compiled *govaluate.EvaluableExpression
	names    [][2]string // referenced variable names, as written and case-folded
	text     string
	value    int64
	static   bool
	dynamic  bool
}

// ConstExpression builds an expression holding a fixed integer value.
func ConstExpression(value int64) *Expression {
	return &Expression{text: fmt.Sprintf("%d", value), value: value, static: true}
}

// NewExpression compiles text against the given parameter list.  Every
// variable appearing in text must name a parameter of the list.  When all
// referenced parameters are static the expression is evaluated on the spot
// and degenerates into a constant.
func NewExpression(text string, params []*Param) (*Expression, error) {
	compiled, err := govaluate.NewEvaluableExpression(text)
	if err != nil {
		return nil, fmt.Errorf("expression %q does not parse: %v", text, err)
	}
	expr := new(Expression)
	expr.compiled = compiled
	expr.text = text

	// resolve every referenced name against the parameter list, and note
	// whether any of them makes the expression dynamic
	for _, name := range compiled.Vars() {
		folded := strings.ToLower(name)
		param := findParam(params, folded)
		if param == nil {
			return nil, fmt.Errorf("expression %q references unknown parameter %q", text, name)
		}
		expr.names = append(expr.names, [2]string{name, folded})
		if param.Dynamic(params) {
			expr.dynamic = true
		}
	}

	if !expr.dynamic {
		value, err := expr.evaluate(params)
		if err != nil {
			return nil, err
		}
		expr.value = value
		expr.static = true
	}
	return expr, nil
}

// Dynamic reports whether the expression depends on a dynamic parameter.
func (expr *Expression) Dynamic() bool {
	return expr != nil && expr.dynamic
}

// Text returns the source text of the expression.
func (expr *Expression) Text() string {
	return expr.text
}

// evalError wraps a numeric evaluation failure so pass-boundary functions
// can catch it and surface it as an ordinary error, leaving runtime state
// intact for inspection.
type evalError struct {
	err error
}

// catchEvalError converts an in-flight evalError into the deferred
// function's named error return.  Anything else keeps unwinding.
func catchEvalError(err *error) {
	if r := recover(); r != nil {
		if ee, ok := r.(evalError); ok {
			*err = ee.err
			return
		}
		panic(r)
	}
}

// evaluate resolves the expression against a parameter list, reporting
// numeric failures (division by zero and friends yield non-finite values).
func (expr *Expression) evaluate(params []*Param) (int64, error) {
	if expr.static {
		return expr.value, nil
	}
	binding := make(map[string]interface{}, len(expr.names))
	for _, name := range expr.names {
		param := findParam(params, name[1])
		if param == nil {
			// compilation checked every referenced name, so a miss
			// means a parameter list from the wrong graph
			panic(fmt.Errorf("expression %q evaluated against parameter list missing %q", expr.text, name[1]))
		}
		binding[name[0]] = float64(param.Value(params))
	}
	result, err := expr.compiled.Evaluate(binding)
	if err != nil {
		return 0, fmt.Errorf("expression %q failed to evaluate: %v", expr.text, err)
	}
	value, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("expression %q evaluated to non-numeric %v", expr.text, result)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("expression %q evaluated to non-finite value", expr.text)
	}
	return int64(value), nil
}

// Evaluate resolves the expression against a parameter list.  Numeric
// failures unwind as an evalError; every pass-boundary caller (BRV, firing
// resolution, scheduling, allocation, dispatch) catches it and returns it
// as its own error, so the current pass aborts without losing state.
func (expr *Expression) Evaluate(params []*Param) int64 {
	value, err := expr.evaluate(params)
	if err != nil {
		panic(evalError{err: err})
	}
	return value
}

// findParam looks a case-folded name up in a parameter list.
func findParam(params []*Param, folded string) *Param {
	for _, param := range params {
		if param.Name == folded {
			return param
		}
	}
	return nil
}
