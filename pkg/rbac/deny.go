package rbac

import (
	"context"

	"github.com/platinummonkey/datawave/pkg/abac"
)

// denyMatch is a deny assignment that applies to a check
type denyMatch struct {
	deny     *compiledDeny
	resource string
}

// matchDeny finds the first deny of userID or its groups that matches action
// on any resource in denyWindow and whose conditions hold. A deny whose
// conditions cannot be evaluated counts as matching. The only error is a
// context error.
func (g *Graph) matchDeny(ctx context.Context, userID, action string, denyWindow []string, rc *abac.Context) (*denyMatch, []TrailEntry, error) {
	var trail []TrailEntry
	for _, p := range g.principals(userID) {
		for _, d := range g.denies[p] {
			if !MatchPattern(d.Action, action) {
				continue
			}
			resource, ok := matchAny(d.Resource, denyWindow)
			if !ok {
				continue
			}

			entry := TrailEntry{
				Step:      StepDeny,
				DenyID:    d.ID,
				Principal: p.String(),
				Resource:  resource,
			}

			if d.exprErr != nil {
				entry.Outcome = OutcomeDenied
				entry.Detail = "deny condition could not be evaluated: " + d.exprErr.Error()
				return &denyMatch{deny: d, resource: resource}, append(trail, entry), nil
			}
			entry.Condition = d.expr.String()

			holds, err := d.expr.Evaluate(ctx, rc)
			if err != nil {
				return nil, trail, err
			}
			if !holds {
				entry.Outcome = OutcomeNotApplicable
				trail = append(trail, entry)
				continue
			}
			entry.Outcome = OutcomeDenied
			return &denyMatch{deny: d, resource: resource}, append(trail, entry), nil
		}
	}
	return nil, trail, nil
}

// overlappingDenies returns the denies of userID and its groups whose action
// and resource overlap a permission, split into those covering the permission
// entirely and those covering only part of it.
func (g *Graph) overlappingDenies(userID string, perm *compiledPermission, denyWindow []string) (full, partial []*compiledDeny) {
	for _, p := range g.principals(userID) {
		for _, d := range g.denies[p] {
			actionCovers := MatchPattern(d.Action, perm.Action)
			actionOverlaps := actionCovers || MatchPattern(perm.Action, d.Action)
			if !actionOverlaps {
				continue
			}
			_, resourceCovers := matchAny(d.Resource, denyWindow)
			if actionCovers && resourceCovers && d.expr.IsEmpty() && d.exprErr == nil {
				full = append(full, d)
				continue
			}
			if resourceCovers || MatchPattern(perm.Resource, d.Resource) {
				partial = append(partial, d)
			}
		}
	}
	return full, partial
}
