package core

// AuthState is the identity provider's view of the current visitor.
type AuthState int

const (
	// AuthLoading means the session cannot be decided yet.
	AuthLoading AuthState = iota
	AuthSignedOut
	AuthSignedIn
)

func (s AuthState) String() string {
	switch s {
	case AuthSignedOut:
		return "signed_out"
	case AuthSignedIn:
		return "signed_in"
	default:
		return "loading"
	}
}

// View is the top-level page rendered for a visitor.
type View string

const (
	ViewLoading   View = "loading"
	ViewSignIn    View = "signin"
	ViewDashboard View = "dashboard"
)

// SelectView picks exactly one page for the auth state. An undecided state
// never falls through to sign-in or dashboard.
func SelectView(state AuthState) View {
	switch state {
	case AuthSignedIn:
		return ViewDashboard
	case AuthSignedOut:
		return ViewSignIn
	default:
		return ViewLoading
	}
}

// Action names a permission checked against a Policy.
type Action string

const (
	ActionCreate    Action = "service:create"
	ActionOverride  Action = "service:override"
	ActionAuthorize Action = "service:authorize"
	ActionRevoke    Action = "service:revoke"
	ActionDelete    Action = "service:delete"
)

// Policy answers whether a role may perform an action.
type Policy interface {
	Can(role Role, action Action) bool
}

// Scope selects which records a listing returns.
type Scope int

const (
	ScopeOwn Scope = iota
	ScopeAll
	ScopePending
)

// Action is the permission needed to list records in the scope.
func (s Scope) Action() Action {
	switch s {
	case ScopeAll:
		return "services:list-all"
	case ScopePending:
		return "services:list-pending"
	default:
		return "services:list-own"
	}
}

func (s Scope) String() string {
	switch s {
	case ScopeAll:
		return "all"
	case ScopePending:
		return "pending"
	default:
		return "own"
	}
}

// Tab is a dashboard section.
type Tab string

const (
	TabServices     Tab = "services"
	TabAnalytics    Tab = "analytics"
	TabHistory      Tab = "history"
	TabAdminAll     Tab = "admin-all"
	TabAdminPending Tab = "admin-pending"
)

// AllTabs lists every tab in display order.
var AllTabs = []Tab{TabServices, TabAnalytics, TabHistory, TabAdminAll, TabAdminPending}

var tabLabels = map[Tab]string{
	TabServices:     "Serviços",
	TabAnalytics:    "Análises",
	TabHistory:      "Histórico",
	TabAdminAll:     "Todos os Serviços",
	TabAdminPending: "Pendentes",
}

func (t Tab) Label() string { return tabLabels[t] }

// Valid reports whether t is a known tab.
func (t Tab) Valid() bool {
	_, ok := tabLabels[t]
	return ok
}

// Action is the permission needed to open the tab.
func (t Tab) Action() Action { return Action("tab:" + string(t)) }

// Scope is the listing scope backing the tab.
func (t Tab) Scope() Scope {
	switch t {
	case TabAdminAll:
		return ScopeAll
	case TabAdminPending:
		return ScopePending
	default:
		return ScopeOwn
	}
}

// TabsFor returns the tabs the role may open, in display order.
func TabsFor(role Role, p Policy) []Tab {
	out := make([]Tab, 0, len(AllTabs))
	for _, t := range AllTabs {
		if p.Can(role, t.Action()) {
			out = append(out, t)
		}
	}
	return out
}
