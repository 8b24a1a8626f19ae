// Package query evaluates declarative JSON query expressions against JSON
// input values.
//
// The default Evaluator is backed by JSONata. Callers treat it as a black box:
// it either returns a value or an *EvaluationError.
package query

import (
	"errors"
	"fmt"

	jsonata "github.com/blues/jsonata-go"
)

// DefaultExpression is the identity expression used by fresh query nodes.
const DefaultExpression = "$"

// Evaluator evaluates an expression against an input value.
type Evaluator interface {
	Evaluate(expression string, input any) (any, error)
}

// EvaluationError reports a malformed expression or a runtime fault inside it.
type EvaluationError struct {
	Expression string
	Message    string
	Err        error
}

func (e *EvaluationError) Error() string {
	return e.Message
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// JSONata evaluates JSONata expressions.
type JSONata struct{}

// NewJSONata returns a JSONata evaluator.
func NewJSONata() *JSONata {
	return &JSONata{}
}

// Evaluate compiles and runs expression. An empty expression is treated as the
// identity. An expression that matches nothing yields nil rather than an error.
func (j *JSONata) Evaluate(expression string, input any) (result any, err error) {
	if expression == "" {
		expression = DefaultExpression
	}

	// Panics inside the evaluator surface as an EvaluationError.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &EvaluationError{Expression: expression, Message: fmt.Sprintf("evaluation panicked: %v", r)}
		}
	}()

	expr, err := jsonata.Compile(expression)
	if err != nil {
		return nil, &EvaluationError{Expression: expression, Message: err.Error(), Err: err}
	}

	out, err := expr.Eval(input)
	if err != nil {
		if errors.Is(err, jsonata.ErrUndefined) {
			return nil, nil
		}
		return nil, &EvaluationError{Expression: expression, Message: err.Error(), Err: err}
	}
	return out, nil
}

// EvaluatorFunc adapts a plain function to the Evaluator interface.
type EvaluatorFunc func(expression string, input any) (any, error)

func (f EvaluatorFunc) Evaluate(expression string, input any) (any, error) {
	return f(expression, input)
}
