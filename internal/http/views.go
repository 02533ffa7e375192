package http

import (
	"context"
	"time"

	"comissao/internal/core"
)

// serviceRow is one record as the listings and the duplicate warning show it.
type serviceRow struct {
	ID        string
	Title     string
	TypeCode  string
	TypeLabel string
	Username  string
	Price     string
	CreatedAt string
	Version   int64
	Included  bool
	Override  bool
	// Actions shows the authorize/revoke button.
	Actions   bool
	CanDelete bool
}

type monthSection struct {
	Key            core.MonthKey
	Label          string
	Count          int
	Included       string
	Pending        string
	ShowPending    bool
	DeletionMarker bool
	Rows           []serviceRow
}

type analyticsRow struct {
	Label    string
	Count    int
	Included string
	Pending  string
}

type analyticsMonth struct {
	Key        core.MonthKey
	Label      string
	Included   string
	Pending    string
	HasPending bool
	Rows       []analyticsRow
}

type priceOption struct {
	Code  string
	Label string
	Price string
}

type serviceForm struct {
	Prices      []priceOption
	CanOverride bool
}

// tabPanel is the data of one tab partial.
type tabPanel struct {
	Tab          core.Tab
	Heading      string
	PendingCount int
	Form         *serviceForm
	Months       []monthSection
	Analytics    []analyticsMonth
	Error        string
}

type tabLink struct {
	Tab    core.Tab
	Label  string
	Active bool
}

type pageData struct {
	Title   string
	Refresh int
}

type signInPage struct {
	pageData
	SignInURL string
}

type dashboardPage struct {
	pageData
	Caller     core.Caller
	IsAdmin    bool
	SignOutURL string
	Tabs       []tabLink
	Active     tabPanel
}

type duplicateWarning struct {
	Title       string
	Matches     []serviceRow
	CanOverride bool
}

type message struct {
	Kind NotificationType
	Text string
}

var tabHeadings = map[core.Tab]string{
	core.TabServices:     "Serviços",
	core.TabAnalytics:    "Analíticos",
	core.TabHistory:      "Histórico de Serviços",
	core.TabAdminAll:     "Todos os Serviços (Admin)",
	core.TabAdminPending: "Serviços Pendentes de Autorização (Admin)",
}

// buildTab loads the records behind tab and shapes them for rendering. The
// caller must already be allowed to open the tab.
func (s *Server) buildTab(ctx context.Context, caller core.Caller, tab core.Tab) (tabPanel, error) {
	panel := tabPanel{Tab: tab, Heading: tabHeadings[tab]}
	// the form does not depend on the store and stays usable when it is down
	if tab == core.TabServices {
		panel.Form = s.serviceForm(caller)
	}

	groups, err := s.services.Months(ctx, caller, tab.Scope())
	if err != nil {
		return panel, err
	}

	switch tab {
	case core.TabAnalytics:
		panel.Analytics = analyticsMonths(core.BreakdownByType(groups))
		return panel, nil
	case core.TabAdminPending:
		for _, g := range groups {
			panel.PendingCount += g.Count()
		}
	}

	adminView := tab == core.TabAdminAll || tab == core.TabAdminPending
	panel.Months = s.monthSections(caller, groups, adminView, tab == core.TabAdminAll)
	return panel, nil
}

func (s *Server) serviceForm(caller core.Caller) *serviceForm {
	f := &serviceForm{CanOverride: s.policy.Can(caller.Role, core.ActionOverride)}
	for _, e := range s.services.Prices().Entries() {
		f.Prices = append(f.Prices, priceOption{
			Code:  string(e.Type),
			Label: e.Type.Label(),
			Price: formatBRL(e.Price.Cents),
		})
	}
	return f
}

func (s *Server) monthSections(caller core.Caller, groups []core.MonthGroup, adminView, withPending bool) []monthSection {
	current := s.services.CurrentMonth()
	canToggle := adminView && s.policy.Can(caller.Role, core.ActionAuthorize)
	canDelete := adminView && s.policy.Can(caller.Role, core.ActionDelete)

	out := make([]monthSection, 0, len(groups))
	for _, g := range groups {
		sec := monthSection{
			Key:            g.Key,
			Label:          monthLabel(g.Key),
			Count:          g.Count(),
			Included:       formatBRL(g.Included.Cents),
			Pending:        formatBRL(g.Pending.Cents),
			ShowPending:    withPending && g.Pending.Cents > 0,
			DeletionMarker: canDelete && g.Key == current,
		}
		for _, svc := range g.Services {
			row := s.row(svc)
			row.Actions = canToggle
			row.CanDelete = canDelete && s.services.DeletionWindowOpen(svc)
			sec.Rows = append(sec.Rows, row)
		}
		out = append(out, sec)
	}
	return out
}

func (s *Server) row(svc core.Service) serviceRow {
	return serviceRow{
		ID:        svc.ID,
		Title:     svc.Title,
		TypeCode:  string(svc.ServiceType),
		TypeLabel: svc.ServiceType.Label(),
		Username:  svc.Username,
		Price:     formatBRL(svc.Price.Cents),
		CreatedAt: formatDateTime(svc.CreatedAt, s.location()),
		Version:   svc.Version,
		Included:  svc.IncludeInTotal,
		Override:  svc.AdminOverride,
	}
}

func analyticsMonths(breakdowns []core.MonthBreakdown) []analyticsMonth {
	out := make([]analyticsMonth, 0, len(breakdowns))
	for _, b := range breakdowns {
		m := analyticsMonth{
			Key:        b.Key,
			Label:      monthLabel(b.Key),
			Included:   formatBRL(b.Included.Cents),
			Pending:    formatBRL(b.Pending.Cents),
			HasPending: b.Pending.Cents > 0,
		}
		for _, ta := range b.ByType {
			m.Rows = append(m.Rows, analyticsRow{
				Label:    ta.Type.Label(),
				Count:    ta.Count,
				Included: formatBRL(ta.Included.Cents),
				Pending:  formatBRL(ta.Pending.Cents),
			})
		}
		out = append(out, m)
	}
	return out
}

func (s *Server) location() *time.Location {
	if loc := s.services.Location(); loc != nil {
		return loc
	}
	return time.Local
}
