package authz

import (
	"reflect"
	"testing"

	"comissao/internal/core"
)

func TestEnforcer(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		role   core.Role
		action core.Action
		want   bool
	}{
		{core.RegularUser, core.ActionCreate, true},
		{core.RegularUser, core.ActionOverride, false},
		{core.RegularUser, core.ActionAuthorize, false},
		{core.RegularUser, core.ActionRevoke, false},
		{core.RegularUser, core.ActionDelete, false},
		{core.RegularUser, core.ScopeOwn.Action(), true},
		{core.RegularUser, core.ScopeAll.Action(), false},
		{core.RegularUser, core.ScopePending.Action(), false},
		{core.AdminUser, core.ActionCreate, true},
		{core.AdminUser, core.ActionOverride, true},
		{core.AdminUser, core.ActionAuthorize, true},
		{core.AdminUser, core.ActionRevoke, true},
		{core.AdminUser, core.ActionDelete, true},
		{core.AdminUser, core.ScopeAll.Action(), true},
		{core.AdminUser, core.ScopePending.Action(), true},
		{core.AdminUser, core.Action("service:unknown"), false},
	}
	for _, tt := range tests {
		t.Run(tt.role.String()+"/"+string(tt.action), func(t *testing.T) {
			if got := e.Can(tt.role, tt.action); got != tt.want {
				t.Errorf("Can(%v, %s) = %v, want %v", tt.role, tt.action, got, tt.want)
			}
		})
	}
}

func TestEnforcerTabs(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, want := core.TabsFor(core.RegularUser, e), []core.Tab{core.TabServices, core.TabAnalytics, core.TabHistory}; !reflect.DeepEqual(got, want) {
		t.Errorf("user tabs = %v, want %v", got, want)
	}
	if got := core.TabsFor(core.AdminUser, e); !reflect.DeepEqual(got, core.AllTabs) {
		t.Errorf("admin tabs = %v, want %v", got, core.AllTabs)
	}
}
