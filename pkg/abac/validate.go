package abac

import (
	"encoding/json"
	"errors"
)

// ValidationResult is the response of the condition validator.
type ValidationResult struct {
	Valid      bool     `json:"valid"`
	Errors     []string `json:"errors"`
	Normalized string   `json:"normalized,omitempty"`
	Clauses    int      `json:"clauses"`
	Fields     []string `json:"fields,omitempty"`
}

// Validate parses raw and reports every problem instead of stopping at the first.
func Validate(raw json.RawMessage) ValidationResult {
	expr, err := Parse(raw)
	if err != nil {
		res := ValidationResult{Errors: []string{err.Error()}}
		var perr *ParseError
		if errors.As(err, &perr) {
			res.Errors = perr.Problems
		}
		return res
	}

	res := ValidationResult{
		Valid:      true,
		Errors:     []string{},
		Normalized: expr.String(),
		Clauses:    len(expr.Clauses()),
	}
	for _, c := range expr.Clauses() {
		res.Fields = append(res.Fields, c.Field())
	}
	return res
}
