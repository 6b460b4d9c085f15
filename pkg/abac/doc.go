// Package abac implements the attribute-based conditions attached to permissions
// and deny assignments.
//
// # Overview
//
// A condition is a JSON object mapping an attribute name to a constraint:
//
//	{
//	  "region":            {"op": "user_attr", "value": "region"},
//	  "resource.owner_id": {"op": "eq", "value": "user_attr:id"},
//	  "env.hour":          {"op": "gte", "value": 9},
//	  "classification":    ["public", "internal"],
//	  "user.mfa_enabled":  true
//	}
//
// Every top-level key must hold for the condition to apply. A literal means
// equality, an array means membership, and an operator object selects one of
// eq, ne, in, not_in, gt, gte, lt, lte, regex or user_attr. "$op" is accepted
// as an alias for "op".
//
// # Parsing
//
// Conditions are parsed once, when a permission or deny assignment is written,
// into a closed set of clause types (Literal, InSet, Compare, UserAttrRef and
// Match). Invalid input is rejected with a *ParseError listing every problem,
// so nothing is interpreted from untyped JSON at evaluation time.
//
// # Evaluation
//
// Evaluate takes an explicit Context holding subject, resource and environment
// attributes:
//
//	expr, err := abac.Parse(raw)
//	if err != nil {
//	    return err
//	}
//	ok, err := expr.Evaluate(ctx, &abac.Context{
//	    Subject:  abac.Attributes{"id": "u1", "region": "EU"},
//	    Resource: abac.Attributes{"region": "US"},
//	})
//
// Missing attributes and type mismatches make a clause false. Numbers are never
// coerced from strings. Regular expressions use RE2 and are length-capped.
// Evaluate checks the context deadline between clauses and reports
// ErrEvaluationTimeout when it has passed.
package abac
