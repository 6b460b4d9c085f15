package abac

import (
	"errors"
	"strings"
)

var (
	// ErrConditionEvaluation marks a condition that is malformed or unsafe to evaluate.
	ErrConditionEvaluation = errors.New("condition evaluation error")

	// ErrEvaluationTimeout is returned when the evaluation deadline passes mid-condition.
	ErrEvaluationTimeout = errors.New("evaluation timeout")
)

// ParseError lists every problem found in a condition document.
type ParseError struct {
	Problems []string
}

func (e *ParseError) Error() string {
	return "invalid condition: " + strings.Join(e.Problems, "; ")
}

func (e *ParseError) Unwrap() error {
	return ErrConditionEvaluation
}

func (e *ParseError) add(problem string) {
	e.Problems = append(e.Problems, problem)
}
