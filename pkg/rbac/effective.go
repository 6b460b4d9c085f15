package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/platinummonkey/datawave/pkg/abac"
)

// EffectivePermissions lists every permission reachable from the user's live
// assignments. With a resource, only assignments and permissions reaching that
// resource are listed and conditions are evaluated against it. Results are
// cached per snapshot version.
func (e *Engine) EffectivePermissions(ctx context.Context, userID, resource string) ([]EffectivePermissionV2, error) {
	ctx, span := e.tracer.Start(ctx, "rbac.EffectivePermissions")
	defer span.End()

	g := e.source.Snapshot().Graph
	user, ok := g.User(userID)
	if !ok {
		return nil, fmt.Errorf("user %q: %w", userID, ErrNotFound)
	}

	key := fmt.Sprintf("%d|%s|%s", g.Version(), userID, resource)
	if e.effective != nil {
		if cached, ok := e.effective.Get(key); ok {
			e.metrics.RecordCacheLookup("effective", true)
			return append([]EffectivePermissionV2(nil), cached...), nil
		}
		e.metrics.RecordCacheLookup("effective", false)
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	now := e.now()
	var allowWindow []string
	if resource != "" {
		allowWindow = g.resourceWindow(resource).allow
	}

	out := []EffectivePermissionV2{}
	volatile := false
	assigned := g.resolvePrincipal(user.ID, now, allowWindow)
	for _, a := range assigned {
		if a.expiresAt != nil {
			volatile = true
		}
	}
	for _, gr := range g.aggregate(assigned, allowWindow) {
		target := resource
		if target == "" {
			target = gr.perm.Resource
		}
		entry := EffectivePermissionV2{
			EffectivePermission: EffectivePermission{
				Action:      gr.perm.Action,
				Resource:    gr.perm.Resource,
				IsEffective: true,
			},
			PermissionID: gr.perm.ID,
			RoleIDs:      gr.roleIDs,
			Conditions:   gr.perm.Conditions,
		}

		var notes []string
		notes = append(notes, "granted via role "+strings.Join(gr.roleIDs, ", "))
		if gr.assignment.principal.Type == PrincipalGroup {
			notes = append(notes, "through group "+gr.assignment.principal.ID)
		}
		if gr.assignment.scope != "" {
			notes = append(notes, "scoped to "+gr.assignment.scope)
		}
		if resource != "" && gr.matched != resource {
			notes = append(notes, "inherited from "+gr.matched)
		}

		if !user.IsActive {
			entry.IsEffective = false
			notes = append(notes, "user is deactivated")
		}

		switch {
		case gr.perm.exprErr != nil:
			entry.IsEffective = false
			notes = append(notes, "condition error: "+gr.perm.exprErr.Error())
		case !gr.perm.expr.IsEmpty():
			rc := g.requestContext(user, CheckRequest{UserID: user.ID, Action: gr.perm.Action, Resource: target})
			holds, err := gr.perm.expr.Evaluate(evalCtx, rc)
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate conditions of %s: %w", gr.perm.ID, err)
			}
			if holds {
				notes = append(notes, "condition satisfied: "+gr.perm.expr.String())
			} else {
				entry.IsEffective = false
				notes = append(notes, "condition not satisfied: "+gr.perm.expr.String())
			}
		}

		full, partial := g.overlappingDenies(user.ID, gr.perm, g.resourceWindow(target).deny)
		for _, d := range full {
			entry.IsEffective = false
			entry.DeniedBy = append(entry.DeniedBy, d.ID)
			notes = append(notes, "denied by "+d.ID)
		}
		for _, d := range partial {
			entry.DeniedBy = append(entry.DeniedBy, d.ID)
			notes = append(notes, fmt.Sprintf("partially denied by %s (%s on %s)", d.ID, d.Action, d.Resource))
		}

		entry.Note = strings.Join(notes, "; ")
		out = append(out, entry)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Action != out[j].Action {
			return out[i].Action < out[j].Action
		}
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].PermissionID < out[j].PermissionID
	})

	if e.effective != nil && !volatile {
		e.effective.Add(key, append([]EffectivePermissionV2(nil), out...))
	}
	return out, nil
}

// TestConditions answers whether userID may perform action on resource with
// the ad-hoc conditions ANDed onto the normal decision. Grants, denies and the
// active flag apply as in Check, but nothing is cached or audited. Malformed
// conditions are reported as not allowed with a note; the error is reserved
// for an unknown user.
func (e *Engine) TestConditions(ctx context.Context, userID, action, resource string, conditions json.RawMessage) (bool, string, error) {
	g := e.source.Snapshot().Graph
	user, ok := g.User(userID)
	if !ok {
		return false, "", fmt.Errorf("user %q: %w", userID, ErrNotFound)
	}

	expr, err := abac.Parse(conditions)
	if err != nil {
		return false, "condition error: " + err.Error(), nil
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := CheckRequest{UserID: userID, Action: action, Resource: resource}
	dec, err := e.evaluate(evalCtx, g, req, e.now())
	if err != nil {
		return false, "evaluation failed: " + err.Error(), nil
	}
	if !dec.Allowed {
		return false, fmt.Sprintf("not granted (%s): %s", dec.Reason, dec.Note), nil
	}

	holds, err := expr.Evaluate(evalCtx, g.requestContext(user, req))
	if err != nil {
		return false, "evaluation failed: " + err.Error(), nil
	}
	if !holds {
		return false, "condition not satisfied: " + expr.String(), nil
	}
	return true, "condition satisfied: " + expr.String(), nil
}
