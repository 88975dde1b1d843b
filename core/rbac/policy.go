package rbac

import (
	"sort"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Permission names a single guarded capability, e.g. "incidents.verify".
type Permission string

type Role struct {
	Name        string
	Permissions []Permission
}

const (
	RoleAdmin     = "admin"
	RoleResponder = "responder"
	RoleSystem    = "system"
)

const (
	PermIncidentsView     Permission = "incidents.view"
	PermIncidentsReport   Permission = "incidents.report"
	PermIncidentsVerify   Permission = "incidents.verify"
	PermIncidentsTriage   Permission = "incidents.triage"
	PermIncidentsProgress Permission = "incidents.progress"
	PermIncidentsOverride Permission = "incidents.override"
	PermIncidentsSeverity Permission = "incidents.severity"
	PermIncidentsAssign   Permission = "incidents.assign"
	PermIncidentsNotes    Permission = "incidents.notes"
	PermIncidentsUpvote   Permission = "incidents.upvote"
	PermNotificationsView Permission = "notifications.view"
	PermLogsView          Permission = "admin.logs"
	PermAccountsManage    Permission = "accounts.manage"
)

// DefaultRoles is the shipped role model: admin holds the full set,
// responder the field set (verify, progress, notes, upvote, report and
// the read surfaces). Triage, overrides, severity, assignment, audit and
// account administration stay admin-only.
func DefaultRoles() []Role {
	return []Role{
		{
			Name: RoleAdmin,
			Permissions: []Permission{
				PermIncidentsView, PermIncidentsReport, PermIncidentsVerify,
				PermIncidentsTriage, PermIncidentsProgress, PermIncidentsOverride,
				PermIncidentsSeverity, PermIncidentsAssign, PermIncidentsNotes,
				PermIncidentsUpvote, PermNotificationsView, PermLogsView,
				PermAccountsManage,
			},
		},
		{
			Name: RoleResponder,
			Permissions: []Permission{
				PermIncidentsView, PermIncidentsReport, PermIncidentsVerify,
				PermIncidentsProgress, PermIncidentsNotes, PermIncidentsUpvote,
				PermNotificationsView,
			},
		},
	}
}

const modelText = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj
`

// Policy answers "may a subject holding these roles perform this
// permission". Built once at compose time and read-only afterwards.
type Policy struct {
	enforcer *casbin.SyncedEnforcer
	grants   map[string][]Permission
}

func NewPolicy(roles []Role) *Policy {
	p := &Policy{grants: make(map[string][]Permission, len(roles))}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return p
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return p
	}
	for _, role := range roles {
		name := strings.ToLower(strings.TrimSpace(role.Name))
		if name == "" {
			continue
		}
		perms := NormalizePermissionNames(role.Permissions)
		p.grants[name] = perms
		for _, perm := range perms {
			_, _ = enforcer.AddPolicy(name, string(perm))
		}
	}
	p.enforcer = enforcer
	return p
}

// Allowed reports whether any of the subject's roles grants perm.
func (p *Policy) Allowed(roles []string, perm Permission) bool {
	if p == nil || p.enforcer == nil || perm == "" {
		return false
	}
	for _, role := range roles {
		ok, err := p.enforcer.Enforce(strings.ToLower(strings.TrimSpace(role)), string(perm))
		if err == nil && ok {
			return true
		}
	}
	return false
}

// PermissionsForRoles returns the union of grants, sorted and deduped,
// for presenting an effective-access view to clients.
func (p *Policy) PermissionsForRoles(roles []string) []Permission {
	if p == nil {
		return nil
	}
	seen := map[Permission]struct{}{}
	for _, role := range roles {
		for _, perm := range p.grants[strings.ToLower(strings.TrimSpace(role))] {
			seen[perm] = struct{}{}
		}
	}
	out := make([]Permission, 0, len(seen))
	for perm := range seen {
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NormalizePermissionNames trims, lowercases and dedups while keeping
// first-seen order.
func NormalizePermissionNames(perms []Permission) []Permission {
	seen := map[Permission]struct{}{}
	out := make([]Permission, 0, len(perms))
	for _, perm := range perms {
		norm := Permission(strings.ToLower(strings.TrimSpace(string(perm))))
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}
