// Package authz decides which dashboard actions a role may perform.
package authz

import (
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"comissao/internal/core"
)

//go:embed model.conf
var modelText string

const (
	subjectUser  = "role:user"
	subjectAdmin = "role:admin"
)

// Enforcer implements core.Policy on top of a casbin enforcer.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// New builds an enforcer seeded with the dashboard's role policies.
func New() (*Enforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("load authz model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}
	if err := seedPolicies(e); err != nil {
		return nil, err
	}
	return &Enforcer{enforcer: e}, nil
}

func seedPolicies(e *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{subjectUser, string(core.ActionCreate)},
		{subjectUser, string(core.ScopeOwn.Action())},
		{subjectUser, string(core.TabServices.Action())},
		{subjectUser, string(core.TabAnalytics.Action())},
		{subjectUser, string(core.TabHistory.Action())},

		{subjectAdmin, string(core.ActionOverride)},
		{subjectAdmin, string(core.ActionAuthorize)},
		{subjectAdmin, string(core.ActionRevoke)},
		{subjectAdmin, string(core.ActionDelete)},
		{subjectAdmin, string(core.ScopeAll.Action())},
		{subjectAdmin, string(core.ScopePending.Action())},
		{subjectAdmin, string(core.TabAdminAll.Action())},
		{subjectAdmin, string(core.TabAdminPending.Action())},
	}
	for _, p := range policies {
		if _, err := e.AddPolicy(p[0], p[1]); err != nil {
			return fmt.Errorf("seed policy %v: %w", p, err)
		}
	}
	// admins can do everything a user can
	if _, err := e.AddGroupingPolicy(subjectAdmin, subjectUser); err != nil {
		return fmt.Errorf("seed admin role: %w", err)
	}
	return nil
}

// Can implements core.Policy. Enforcement errors deny.
func (e *Enforcer) Can(role core.Role, action core.Action) bool {
	ok, err := e.enforcer.Enforce(subject(role), string(action))
	if err != nil {
		slog.Error("Authorization check failed", "component", "authz", "role", role.String(), "action", action, "error", err)
		return false
	}
	return ok
}

func subject(role core.Role) string {
	if role == core.AdminUser {
		return subjectAdmin
	}
	return subjectUser
}
