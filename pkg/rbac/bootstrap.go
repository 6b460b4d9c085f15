package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/datawave/pkg/abac"
	"github.com/platinummonkey/datawave/pkg/audit"
)

// Bootstrap is a seed policy read from YAML
type Bootstrap struct {
	Permissions []BootstrapPermission `yaml:"permissions"`
	Resources   []BootstrapResource   `yaml:"resources"`
	Users       []BootstrapUser       `yaml:"users"`
	Groups      []BootstrapGroup      `yaml:"groups"`
	Roles       []BootstrapRole       `yaml:"roles"`
	Assignments []BootstrapAssignment `yaml:"assignments"`
	Denies      []BootstrapDeny       `yaml:"denies"`
}

type BootstrapPermission struct {
	ID          string         `yaml:"id"`
	Action      string         `yaml:"action"`
	Resource    string         `yaml:"resource"`
	Conditions  map[string]any `yaml:"conditions"`
	Description string         `yaml:"description"`
}

type BootstrapResource struct {
	ID               string         `yaml:"id"`
	Name             string         `yaml:"name"`
	Type             string         `yaml:"type"`
	Parent           string         `yaml:"parent"`
	BlockInheritance bool           `yaml:"block_inheritance"`
	Attributes       map[string]any `yaml:"attributes"`
}

type BootstrapUser struct {
	ID          string         `yaml:"id"`
	Email       string         `yaml:"email"`
	DisplayName string         `yaml:"display_name"`
	Verified    bool           `yaml:"verified"`
	MFA         bool           `yaml:"mfa"`
	Attributes  map[string]any `yaml:"attributes"`
}

type BootstrapGroup struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Members     []string `yaml:"members"`
}

type BootstrapRole struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Description string   `yaml:"description"`
	Parents     []string `yaml:"parents"`
	Permissions []string `yaml:"permissions"`
}

type BootstrapAssignment struct {
	User     string `yaml:"user"`
	Group    string `yaml:"group"`
	Role     string `yaml:"role"`
	Resource string `yaml:"resource"`
}

type BootstrapDeny struct {
	ID         string         `yaml:"id"`
	User       string         `yaml:"user"`
	Group      string         `yaml:"group"`
	Action     string         `yaml:"action"`
	Resource   string         `yaml:"resource"`
	Conditions map[string]any `yaml:"conditions"`
	Reason     string         `yaml:"reason"`
}

// LoadBootstrap reads a seed policy file
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bootstrap file: %w", err)
	}
	return ParseBootstrap(data)
}

// ParseBootstrap decodes a seed policy. Unknown fields are rejected.
func ParseBootstrap(data []byte) (*Bootstrap, error) {
	var b Bootstrap
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return &b, nil
		}
		return nil, fmt.Errorf("failed to parse bootstrap file: %w", err)
	}
	return &b, nil
}

// SeedResult counts what Seed created
type SeedResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// Seed applies b additively in one commit. Entities whose id already exists
// are skipped and never overwritten; everything else is validated the same
// way as the individual mutations.
func (m *Manager) Seed(ctx context.Context, b *Bootstrap) (SeedResult, error) {
	var res SeedResult
	err := m.commit(ctx, "seed", func(t *txn) error {
		s := seeder{t: t, res: &res}
		for _, p := range b.Permissions {
			if err := s.permission(p); err != nil {
				return err
			}
		}
		for _, r := range b.Resources {
			if err := s.resource(r); err != nil {
				return err
			}
		}
		for _, u := range b.Users {
			if err := s.user(u); err != nil {
				return err
			}
		}
		for _, g := range b.Groups {
			if err := s.group(g); err != nil {
				return err
			}
		}
		for _, r := range b.Roles {
			if err := s.role(r); err != nil {
				return err
			}
		}
		for _, a := range b.Assignments {
			if err := s.assignment(a); err != nil {
				return err
			}
		}
		for _, d := range b.Denies {
			if err := s.deny(d); err != nil {
				return err
			}
		}
		return nil
	})
	return res, err
}

type seeder struct {
	t   *txn
	res *SeedResult
}

func (s seeder) created() { s.res.Created++ }
func (s seeder) skipped() { s.res.Skipped++ }

func (s seeder) permission(bp BootstrapPermission) error {
	t := s.t
	if _, ok := t.model.Permissions[bp.ID]; ok || bp.ID == "" {
		s.skipped()
		return nil
	}
	if !ValidPattern(bp.Action) || !ValidPattern(bp.Resource) {
		return invalid("permission %q: invalid pattern", bp.ID)
	}
	conds, err := conditionsJSON(bp.Conditions)
	if err != nil {
		return fmt.Errorf("permission %q: %w", bp.ID, err)
	}
	p := Permission{ID: bp.ID, Action: bp.Action, Resource: bp.Resource, Conditions: conds, Description: bp.Description, CreatedAt: t.now}
	t.put(KindPermission, p.ID, p)
	t.audit(audit.EventTypePermissionCreate, audit.TargetPermission, p.ID, nil, p)
	s.created()
	return nil
}

func (s seeder) resource(br BootstrapResource) error {
	t := s.t
	if _, ok := t.model.Resources[br.ID]; ok {
		s.skipped()
		return nil
	}
	if !ValidPattern(br.ID) || IsWildcard(br.ID) {
		return invalid("invalid resource id %q", br.ID)
	}
	if br.Parent != "" {
		if _, ok := t.model.Resources[br.Parent]; !ok {
			return notFound("parent resource", br.Parent)
		}
	}
	name := br.Name
	if name == "" {
		name = br.ID
	}
	r := ResourceNode{ID: br.ID, Name: name, Type: br.Type, ParentID: br.Parent, BlockInheritance: br.BlockInheritance, Attributes: br.Attributes, CreatedAt: t.now}
	t.put(KindResource, r.ID, r)
	t.audit(audit.EventTypeResourceCreate, audit.TargetResource, r.ID, nil, r)
	s.created()
	return nil
}

func (s seeder) user(bu BootstrapUser) error {
	t := s.t
	if _, ok := t.model.Users[bu.ID]; ok || bu.ID == "" {
		s.skipped()
		return nil
	}
	u := User{
		ID: bu.ID, Email: bu.Email, DisplayName: bu.DisplayName,
		IsActive: true, IsVerified: bu.Verified, MFAEnabled: bu.MFA,
		Attributes: bu.Attributes, CreatedAt: t.now, UpdatedAt: t.now,
	}
	t.put(KindUser, u.ID, u)
	t.audit(audit.EventTypeUserCreate, audit.TargetUser, u.ID, nil, u)
	s.created()
	return nil
}

func (s seeder) group(bg BootstrapGroup) error {
	t := s.t
	if _, ok := t.model.Groups[bg.ID]; ok || bg.ID == "" {
		s.skipped()
		return nil
	}
	members := dedupe(bg.Members)
	for _, uid := range members {
		if _, ok := t.model.Users[uid]; !ok {
			return notFound("user", uid)
		}
	}
	name := bg.Name
	if name == "" {
		name = bg.ID
	}
	g := Group{ID: bg.ID, Name: name, Description: bg.Description, MemberIDs: members, CreatedAt: t.now}
	t.put(KindGroup, g.ID, g)
	t.audit(audit.EventTypeGroupCreate, audit.TargetGroup, g.ID, nil, g)
	s.created()
	return nil
}

func (s seeder) role(br BootstrapRole) error {
	t := s.t
	if _, ok := t.model.Roles[br.ID]; ok || br.ID == "" {
		s.skipped()
		return nil
	}
	name := br.Name
	if name == "" {
		name = br.ID
	}
	if err := uniqueRoleName(t.model, br.ID, name); err != nil {
		return err
	}
	parents := dedupe(br.Parents)
	for _, pid := range parents {
		if _, ok := t.model.Roles[pid]; !ok {
			return notFound("parent role", pid)
		}
	}
	perms := dedupe(br.Permissions)
	for _, pid := range perms {
		if _, ok := t.model.Permissions[pid]; !ok {
			return notFound("permission", pid)
		}
	}
	display := br.DisplayName
	if display == "" {
		display = name
	}
	r := Role{
		ID: br.ID, Name: name, DisplayName: display, Description: br.Description,
		ParentIDs: parents, PermissionIDs: perms,
		CreatedAt: t.now, UpdatedAt: t.now, CreatedBy: t.actor,
	}
	t.put(KindRole, r.ID, r)
	t.audit(audit.EventTypeRoleCreate, audit.TargetRole, r.ID, nil, r)
	s.created()
	return nil
}

func (s seeder) assignment(ba BootstrapAssignment) error {
	p, err := seedPrincipal(ba.User, ba.Group)
	if err != nil {
		return err
	}
	if findAssignment(s.t.model, p, ba.Role, ba.Resource, s.t.now) != "" {
		s.skipped()
		return nil
	}
	if _, err := assignRole(s.t, AssignRoleInput{Principal: p, RoleID: ba.Role, ResourceID: ba.Resource, Source: SourceBootstrap}); err != nil {
		return err
	}
	s.created()
	return nil
}

func (s seeder) deny(bd BootstrapDeny) error {
	t := s.t
	if _, ok := t.model.Denies[bd.ID]; ok || bd.ID == "" {
		s.skipped()
		return nil
	}
	p, err := seedPrincipal(bd.User, bd.Group)
	if err != nil {
		return err
	}
	if !t.model.principalExists(p) {
		return notFound(string(p.Type), p.ID)
	}
	if !ValidPattern(bd.Action) || !ValidPattern(bd.Resource) {
		return invalid("deny %q: invalid pattern", bd.ID)
	}
	conds, err := conditionsJSON(bd.Conditions)
	if err != nil {
		return fmt.Errorf("deny %q: %w", bd.ID, err)
	}
	d := DenyAssignment{
		ID: bd.ID, Principal: p, Action: bd.Action, Resource: bd.Resource,
		Conditions: conds, Reason: bd.Reason, CreatedBy: t.actor, CreatedAt: t.now,
	}
	t.put(KindDeny, d.ID, d)
	t.audit(audit.EventTypeDenyCreate, audit.TargetDenyAssignment, d.ID, nil, d)
	s.created()
	return nil
}

func seedPrincipal(user, group string) (Principal, error) {
	switch {
	case user != "" && group == "":
		return Principal{Type: PrincipalUser, ID: user}, nil
	case group != "" && user == "":
		return Principal{Type: PrincipalGroup, ID: group}, nil
	}
	return Principal{}, invalid("exactly one of user or group is required")
}

// conditionsJSON converts a YAML condition map to its stored JSON form and
// validates it
func conditionsJSON(conds map[string]any) (json.RawMessage, error) {
	if len(conds) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(conds)
	if err != nil {
		return nil, invalid("conditions are not JSON encodable: %v", err)
	}
	if _, err := abac.Parse(raw); err != nil {
		return nil, err
	}
	return raw, nil
}
