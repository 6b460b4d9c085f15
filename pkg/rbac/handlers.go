package rbac

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/datawave/pkg/abac"
	"github.com/platinummonkey/datawave/pkg/httputil"
)

// Handlers provides HTTP handlers for RBAC operations
type Handlers struct {
	manager *Manager
	engine  *Engine
	log     *logrus.Logger
	guard   func(http.Handler) http.Handler
}

// NewHandlers creates new RBAC handlers
func NewHandlers(manager *Manager, engine *Engine, log *logrus.Logger) *Handlers {
	if log == nil {
		log = logrus.New()
	}
	return &Handlers{
		manager: manager,
		engine:  engine,
		log:     log,
	}
}

// WithAdminGuard wraps every mutating route with guard
func (h *Handlers) WithAdminGuard(guard func(http.Handler) http.Handler) *Handlers {
	h.guard = guard
	return h
}

// RegisterRoutes registers all RBAC routes. Static segments are registered
// before the {id} routes that would otherwise capture them.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	read := func(path string, fn http.HandlerFunc) {
		router.HandleFunc(path, fn).Methods("GET")
	}
	write := func(path, method string, fn http.HandlerFunc) {
		var handler http.Handler = fn
		if h.guard != nil {
			handler = h.guard(handler)
		}
		router.Handle(path, handler).Methods(method)
	}

	// Decisions
	router.HandleFunc("/rbac/check", h.check).Methods("POST")
	router.HandleFunc("/rbac/test-abac", h.testABAC).Methods("POST")
	router.HandleFunc("/rbac/validate-condition", h.validateCondition).Methods("POST")

	// Users
	read("/rbac/users", h.listUsers)
	write("/rbac/users", "POST", h.createUser)
	read("/rbac/users/{id}", h.getUser)
	write("/rbac/users/{id}", "PUT", h.updateUser)
	write("/rbac/users/{id}/deactivate", "POST", h.deactivateUser)
	read("/rbac/users/{id}/effective-permissions", h.effectivePermissions)
	read("/rbac/users/{id}/effective-permissions-v2", h.effectivePermissionsV2)

	// Roles
	read("/rbac/roles", h.listRoles)
	write("/rbac/roles", "POST", h.createRole)
	read("/rbac/roles/{id}", h.getRole)
	write("/rbac/roles/{id}", "PUT", h.updateRole)
	write("/rbac/roles/{id}", "DELETE", h.deleteRole)
	write("/rbac/roles/{id}/parents", "POST", h.addRoleParent)
	write("/rbac/roles/{id}/parents/{parent_id}", "DELETE", h.removeRoleParent)
	write("/rbac/roles/{id}/permissions", "POST", h.attachPermission)
	write("/rbac/roles/{id}/permissions/{permission_id}", "DELETE", h.detachPermission)

	// Permissions
	read("/rbac/permissions", h.listPermissions)
	write("/rbac/permissions", "POST", h.createPermission)
	read("/rbac/permissions/{id}", h.getPermission)
	write("/rbac/permissions/{id}", "DELETE", h.deletePermission)

	// Groups
	read("/rbac/groups", h.listGroups)
	write("/rbac/groups", "POST", h.createGroup)
	read("/rbac/groups/{id}", h.getGroup)
	write("/rbac/groups/{id}", "DELETE", h.deleteGroup)
	write("/rbac/groups/{id}/members", "POST", h.addGroupMember)
	write("/rbac/groups/{id}/members/{user_id}", "DELETE", h.removeGroupMember)

	// Resources
	read("/rbac/resources", h.listResources)
	read("/rbac/resources/tree", h.resourceTree)
	write("/rbac/resources", "POST", h.createResource)
	read("/rbac/resources/{id}", h.getResource)
	write("/rbac/resources/{id}", "PUT", h.updateResource)
	write("/rbac/resources/{id}", "DELETE", h.deleteResource)
	read("/rbac/resources/{id}/roles", h.resourceRoles)
	write("/rbac/resources/{id}/assign-role", "POST", h.assignResourceRole)

	// Assignments and denies
	read("/rbac/role-assignments", h.listAssignments)
	write("/rbac/role-assignments", "POST", h.assignRole)
	write("/rbac/role-assignments/{id}", "DELETE", h.revokeAssignment)
	read("/rbac/deny-assignments", h.listDenies)
	write("/rbac/deny-assignments", "POST", h.createDeny)
	write("/rbac/deny-assignments/{id}", "DELETE", h.deleteDeny)

	// Condition templates
	read("/rbac/condition-templates", h.listTemplates)
	read("/rbac/condition-templates/{id}", h.getTemplate)
	write("/rbac/condition-templates", "POST", h.createTemplate)

	// Any principal may file or withdraw its own request. Reviews grant
	// roles, so they sit behind the guard.
	read("/rbac/access-requests", h.listAccessRequests)
	router.HandleFunc("/rbac/access-requests", h.createAccessRequest).Methods("POST")
	read("/rbac/access-requests/{id}", h.getAccessRequest)
	write("/rbac/access-requests/{id}/approve", "POST", h.approveAccessRequest)
	write("/rbac/access-requests/{id}/reject", "POST", h.rejectAccessRequest)
	router.HandleFunc("/rbac/access-requests/{id}/withdraw", h.withdrawAccessRequest).Methods("POST")
	write("/rbac/access-review/trigger", "POST", h.triggerAccessReview)

	// Bulk operations
	write("/rbac/bulk-assign-roles", "POST", h.bulkAssignRoles)
	write("/rbac/bulk-remove-roles", "POST", h.bulkRemoveRoles)
	write("/rbac/bulk-assign-permissions", "POST", h.bulkAssignPermissions)
	write("/rbac/bulk-remove-permissions", "POST", h.bulkRemovePermissions)
}

// statusFor maps a reason code to its HTTP status
func statusFor(code string) int {
	switch code {
	case ReasonCyclicRoleHierarchy, ReasonCyclicResourceHierarchy, ReasonInvalidStateTransition, ReasonConflict:
		return http.StatusConflict
	case ReasonBuiltInRole, ReasonForbidden:
		return http.StatusForbidden
	case ReasonNotFound:
		return http.StatusNotFound
	case ReasonInvalidCondition, ReasonInvalidInput:
		return http.StatusBadRequest
	case ReasonAuditWriteFailure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as {"error","code"}. Internal errors are logged and
// replaced with a generic message.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := ReasonCode(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.log.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).WithError(err).Error("rbac request failed")
		httputil.WriteErrorCode(w, status, "internal error", ReasonInternal)
		return
	}
	httputil.WriteErrorCode(w, status, err.Error(), code)
}

func (h *Handlers) notFound(w http.ResponseWriter, kind, id string) {
	httputil.WriteErrorCode(w, http.StatusNotFound, kind+" "+id+" not found", ReasonNotFound)
}

func (h *Handlers) graph() *Graph {
	return h.manager.Snapshot().Graph
}

// ---- decisions ----

// check handles POST /rbac/check
func (h *Handlers) check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Action == "" || req.Resource == "" {
		httputil.WriteBadRequest(w, "user_id, action and resource are required")
		return
	}
	httputil.WriteSuccess(w, h.engine.Check(r.Context(), req))
}

// testABAC handles POST /rbac/test-abac
func (h *Handlers) testABAC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string          `json:"user_id"`
		Action     string          `json:"action"`
		Resource   string          `json:"resource"`
		Conditions json.RawMessage `json:"conditions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}
	allowed, note, err := h.engine.TestConditions(r.Context(), req.UserID, req.Action, req.Resource, req.Conditions)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"allowed": allowed,
		"note":    note,
	})
}

// validateCondition handles POST /rbac/validate-condition. The body is the
// condition object itself.
func (h *Handlers) validateCondition(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read body")
		return
	}
	httputil.WriteSuccess(w, abac.Validate(body))
}

// ---- users ----

func (h *Handlers) listUsers(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.graph().Users())
}

func (h *Handlers) getUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	u, ok := h.graph().User(id)
	if !ok {
		h.notFound(w, "user", id)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"user":   u,
		"groups": h.graph().GroupsOf(id),
	})
}

func (h *Handlers) createUser(w http.ResponseWriter, r *http.Request) {
	var u User
	if !httputil.ParseJSONOrError(w, r, &u) {
		return
	}
	created, err := h.manager.CreateUser(r.Context(), u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

func (h *Handlers) updateUser(w http.ResponseWriter, r *http.Request) {
	var upd UserUpdate
	if !httputil.ParseJSONOrError(w, r, &upd) {
		return
	}
	u, err := h.manager.UpdateUser(r.Context(), mux.Vars(r)["id"], upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, u)
}

func (h *Handlers) deactivateUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.manager.DeactivateUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, u)
}

// effectivePermissions handles GET /rbac/users/{id}/effective-permissions
func (h *Handlers) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.engine.EffectivePermissions(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("resource"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]EffectivePermission, len(perms))
	for i, p := range perms {
		out[i] = p.EffectivePermission
	}
	httputil.WriteSuccess(w, out)
}

// effectivePermissionsV2 handles GET /rbac/users/{id}/effective-permissions-v2
func (h *Handlers) effectivePermissionsV2(w http.ResponseWriter, r *http.Request) {
	perms, err := h.engine.EffectivePermissions(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("resource"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// ---- roles ----

type roleView struct {
	Role
	Ancestors []string `json:"ancestors"`
}

func (h *Handlers) listRoles(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.graph().Roles())
}

func (h *Handlers) getRole(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	g := h.graph()
	role, ok := g.Role(id)
	if !ok {
		h.notFound(w, "role", id)
		return
	}
	httputil.WriteSuccess(w, roleView{Role: role, Ancestors: g.Ancestors(id)})
}

func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	var role Role
	if !httputil.ParseJSONOrError(w, r, &role) {
		return
	}
	created, err := h.manager.CreateRole(r.Context(), role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

func (h *Handlers) updateRole(w http.ResponseWriter, r *http.Request) {
	var upd RoleUpdate
	if !httputil.ParseJSONOrError(w, r, &upd) {
		return
	}
	role, err := h.manager.UpdateRole(r.Context(), mux.Vars(r)["id"], upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

func (h *Handlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteRole(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) addRoleParent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParentID string `json:"parent_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.manager.AddRoleParent(r.Context(), mux.Vars(r)["id"], req.ParentID); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) removeRoleParent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.manager.RemoveRoleParent(r.Context(), vars["id"], vars["parent_id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) attachPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PermissionID string `json:"permission_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.manager.AttachPermission(r.Context(), mux.Vars(r)["id"], req.PermissionID); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) detachPermission(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.manager.DetachPermission(r.Context(), vars["id"], vars["permission_id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ---- permissions ----

func (h *Handlers) listPermissions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.graph().Permissions())
}

func (h *Handlers) getPermission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, ok := h.graph().Permission(id)
	if !ok {
		h.notFound(w, "permission", id)
		return
	}
	httputil.WriteSuccess(w, p)
}

func (h *Handlers) createPermission(w http.ResponseWriter, r *http.Request) {
	var p Permission
	if !httputil.ParseJSONOrError(w, r, &p) {
		return
	}
	created, err := h.manager.CreatePermission(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

func (h *Handlers) deletePermission(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeletePermission(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ---- groups ----

func (h *Handlers) listGroups(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.graph().Groups())
}

func (h *Handlers) getGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	g, ok := h.graph().Group(id)
	if !ok {
		h.notFound(w, "group", id)
		return
	}
	httputil.WriteSuccess(w, g)
}

func (h *Handlers) createGroup(w http.ResponseWriter, r *http.Request) {
	var g Group
	if !httputil.ParseJSONOrError(w, r, &g) {
		return
	}
	created, err := h.manager.CreateGroup(r.Context(), g)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

func (h *Handlers) deleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteGroup(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) addGroupMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.manager.AddGroupMember(r.Context(), mux.Vars(r)["id"], req.UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) removeGroupMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.manager.RemoveGroupMember(r.Context(), vars["id"], vars["user_id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ---- resources ----

func (h *Handlers) listResources(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.graph().Resources())
}

// resourceTree handles GET /rbac/resources/tree
func (h *Handlers) resourceTree(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.graph().ResourceTree())
}

func (h *Handlers) getResource(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, ok := h.graph().Resource(id)
	if !ok {
		h.notFound(w, "resource", id)
		return
	}
	httputil.WriteSuccess(w, res)
}

func (h *Handlers) createResource(w http.ResponseWriter, r *http.Request) {
	var res ResourceNode
	if !httputil.ParseJSONOrError(w, r, &res) {
		return
	}
	created, err := h.manager.CreateResource(r.Context(), res)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

func (h *Handlers) updateResource(w http.ResponseWriter, r *http.Request) {
	var upd ResourceUpdate
	if !httputil.ParseJSONOrError(w, r, &upd) {
		return
	}
	res, err := h.manager.UpdateResource(r.Context(), mux.Vars(r)["id"], upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}

func (h *Handlers) deleteResource(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteResource(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// resourceRoles handles GET /rbac/resources/{id}/roles: the assignments
// scoped directly to the resource
func (h *Handlers) resourceRoles(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	g := h.graph()
	if _, ok := g.Resource(id); !ok {
		h.notFound(w, "resource", id)
		return
	}
	httputil.WriteSuccess(w, g.ListAssignments(AssignmentFilter{ResourceID: id}))
}

// assignResourceRole handles POST /rbac/resources/{id}/assign-role
func (h *Handlers) assignResourceRole(w http.ResponseWriter, r *http.Request) {
	var in AssignRoleInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	in.ResourceID = mux.Vars(r)["id"]
	a, err := h.manager.AssignRole(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, a)
}

// ---- assignments and denies ----

// listAssignments handles GET /rbac/role-assignments
func (h *Handlers) listAssignments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := AssignmentFilter{
		PrincipalType: PrincipalType(q.Get("principal_type")),
		PrincipalID:   q.Get("principal_id"),
		RoleID:        q.Get("role_id"),
		ResourceID:    q.Get("resource_id"),
	}
	if f.PrincipalType != "" && !f.PrincipalType.Valid() {
		httputil.WriteBadRequest(w, "principal_type must be user or group")
		return
	}
	httputil.WriteSuccess(w, h.graph().ListAssignments(f))
}

func (h *Handlers) assignRole(w http.ResponseWriter, r *http.Request) {
	var in AssignRoleInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	a, err := h.manager.AssignRole(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, a)
}

func (h *Handlers) revokeAssignment(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.RevokeAssignment(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) listDenies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	httputil.WriteSuccess(w, h.graph().ListDenies(Principal{
		Type: PrincipalType(q.Get("principal_type")),
		ID:   q.Get("principal_id"),
	}))
}

func (h *Handlers) createDeny(w http.ResponseWriter, r *http.Request) {
	var d DenyAssignment
	if !httputil.ParseJSONOrError(w, r, &d) {
		return
	}
	created, err := h.manager.CreateDeny(r.Context(), d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

func (h *Handlers) deleteDeny(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.DeleteDeny(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ---- condition templates ----

func (h *Handlers) listTemplates(w http.ResponseWriter, r *http.Request) {
	templates := h.manager.Snapshot().Templates()
	if category := r.URL.Query().Get("category"); category != "" {
		filtered := []abac.Template{}
		for _, t := range templates {
			if strings.EqualFold(t.Category, category) {
				filtered = append(filtered, t)
			}
		}
		templates = filtered
	}
	httputil.WriteSuccess(w, templates)
}

func (h *Handlers) getTemplate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, ok := h.manager.Snapshot().Template(id)
	if !ok {
		h.notFound(w, "condition template", id)
		return
	}
	httputil.WriteSuccess(w, t)
}

func (h *Handlers) createTemplate(w http.ResponseWriter, r *http.Request) {
	var t abac.Template
	if !httputil.ParseJSONOrError(w, r, &t) {
		return
	}
	created, err := h.manager.CreateTemplate(r.Context(), t)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, created)
}

// ---- access requests ----

// listAccessRequests handles GET /rbac/access-requests
func (h *Handlers) listAccessRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := AccessRequestStatus(q.Get("status"))
	switch status {
	case "", RequestPending, RequestApproved, RequestRejected, RequestExpired, RequestWithdrawn:
	default:
		httputil.WriteBadRequest(w, "unknown status "+string(status))
		return
	}
	httputil.WriteSuccess(w, h.manager.Snapshot().AccessRequests(status, q.Get("requester_id")))
}

func (h *Handlers) getAccessRequest(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, ok := h.manager.Snapshot().AccessRequest(id)
	if !ok {
		h.notFound(w, "access request", id)
		return
	}
	httputil.WriteSuccess(w, req)
}

func (h *Handlers) createAccessRequest(w http.ResponseWriter, r *http.Request) {
	var in AccessRequestInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	req, err := h.manager.CreateAccessRequest(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteCreated(w, req)
}

type reviewBody struct {
	Note string `json:"note"`
}

// parseOptionalJSON decodes a body that may be empty
func parseOptionalJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		httputil.WriteBadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (h *Handlers) approveAccessRequest(w http.ResponseWriter, r *http.Request) {
	var body reviewBody
	if !parseOptionalJSON(w, r, &body) {
		return
	}
	req, err := h.manager.ApproveAccessRequest(r.Context(), mux.Vars(r)["id"], body.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, req)
}

func (h *Handlers) rejectAccessRequest(w http.ResponseWriter, r *http.Request) {
	var body reviewBody
	if !parseOptionalJSON(w, r, &body) {
		return
	}
	req, err := h.manager.RejectAccessRequest(r.Context(), mux.Vars(r)["id"], body.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, req)
}

func (h *Handlers) withdrawAccessRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.manager.WithdrawAccessRequest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, req)
}

// triggerAccessReview handles POST /rbac/access-review/trigger
func (h *Handlers) triggerAccessReview(w http.ResponseWriter, r *http.Request) {
	report, err := h.manager.RunAccessReview(r.Context(), time.Now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, report)
}

// ---- bulk ----

func (h *Handlers) bulkAssignRoles(w http.ResponseWriter, r *http.Request) {
	var req BulkRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	res, err := h.manager.BulkAssignRoles(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}

func (h *Handlers) bulkRemoveRoles(w http.ResponseWriter, r *http.Request) {
	var req BulkRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	res, err := h.manager.BulkRemoveRoles(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}

func (h *Handlers) bulkAssignPermissions(w http.ResponseWriter, r *http.Request) {
	var req BulkPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	res, err := h.manager.BulkAssignPermissions(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}

func (h *Handlers) bulkRemovePermissions(w http.ResponseWriter, r *http.Request) {
	var req BulkPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	res, err := h.manager.BulkRemovePermissions(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}
