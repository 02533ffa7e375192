package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"comissao/internal/auth"
	"comissao/internal/core"
	"comissao/internal/dupcheck"
	"comissao/internal/log"
	"comissao/internal/services"
)

// handleHealth reports that the process is serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady reports ready once session tokens can be verified and the
// store answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"templates": "ok", "auth_keys": "ok", "store": "ok"}
	status, code := "ready", http.StatusOK
	if !s.auth.Ready() {
		checks["auth_keys"] = "loading"
		status, code = "not_ready", http.StatusServiceUnavailable
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.services.Ping(ctx); err != nil {
		checks["store"] = "unreachable"
		status, code = "not_ready", http.StatusServiceUnavailable
		log.FromContext(ctx).WarnContext(ctx, "Store not reachable", log.FieldError, err)
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleIndex renders exactly one of the loading, sign-in and dashboard pages.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFrom(r.Context())
	switch core.SelectView(sess.State) {
	case core.ViewLoading:
		s.render(w, r, http.StatusOK, "page_loading", pageData{Title: "Carregando", Refresh: loadingRefresh}, nil)
	case core.ViewSignIn:
		s.render(w, r, http.StatusOK, "page_signin", signInPage{pageData: pageData{Title: "Entrar"}, SignInURL: s.cfg.SignInURL}, nil)
	default:
		s.renderDashboard(w, r, sess.Caller)
	}
}

func (s *Server) renderDashboard(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	tabs := core.TabsFor(caller.Role, s.policy)
	active := core.TabServices
	if want := core.Tab(r.URL.Query().Get("tab")); want.Valid() && s.policy.Can(caller.Role, want.Action()) {
		active = want
	}

	page := dashboardPage{
		pageData:   pageData{Title: "Painel"},
		Caller:     caller,
		IsAdmin:    caller.IsAdmin(),
		SignOutURL: s.cfg.SignOutURL,
	}
	for _, t := range tabs {
		page.Tabs = append(page.Tabs, tabLink{Tab: t, Label: t.Label(), Active: t == active})
	}

	panel, err := s.buildTab(r.Context(), caller, active)
	if err != nil {
		// the page still renders; the tab shows the failure and can be reopened
		_, panel.Error = errorResponse(err)
		s.events.LogError(r.Context(), "Dashboard tab failed", err, log.OpList,
			log.NewFields().WithCaller(caller).With("tab", string(active)))
	}
	page.Active = panel
	s.render(w, r, http.StatusOK, "page_dashboard", page, nil)
}

// handleTab renders one tab partial. Admin tabs are refused to regular users
// with a denial partial.
func (s *Server) handleTab(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	tab := core.Tab(r.PathValue("tab"))
	if !tab.Valid() {
		s.renderMessage(w, r, http.StatusNotFound, NotificationError, "Seção desconhecida.")
		return
	}
	if !s.policy.Can(caller.Role, tab.Action()) {
		err := &core.AuthorizationError{Action: string(tab.Action()), Reason: "requires admin role"}
		s.events.LogDenied(r.Context(), caller, string(tab.Action()), err)
		s.render(w, r, http.StatusForbidden, "denied", nil, nil)
		return
	}

	panel, err := s.buildTab(r.Context(), caller, tab)
	if err != nil {
		s.writeError(w, r, caller, string(tab.Action()), err)
		return
	}
	s.render(w, r, http.StatusOK, "tab", panel, nil)
}

// handleDuplicateCheck answers the debounced check fired while the title is
// typed. A superseded check gets 204 so the browser keeps the newer answer.
func (s *Server) handleDuplicateCheck(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	title := sanitizeInput(r.URL.Query().Get("title"))

	res, err := s.dup.Check(r.Context(), caller.UserID, title)
	switch {
	case errors.Is(err, dupcheck.ErrSuperseded), errors.Is(err, context.Canceled):
		s.metrics.DuplicateCheck("superseded")
		w.WriteHeader(http.StatusNoContent)
		return
	case err != nil:
		s.metrics.DuplicateCheck("error")
		s.writeError(w, r, caller, "duplicate-check", &core.RemoteError{Op: "duplicate check", Err: err})
		return
	}

	outcome := "unique"
	if res.Duplicate() {
		outcome = "duplicate"
	}
	s.metrics.DuplicateCheck(outcome)

	warn := duplicateWarning{Title: res.Title, CanOverride: s.policy.Can(caller.Role, core.ActionOverride)}
	for _, m := range res.Matches {
		warn.Matches = append(warn.Matches, s.row(m))
	}
	s.render(w, r, http.StatusOK, "duplicate_warning", warn, nil)
}

// handleCreate stores a new service from the form.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, caller core.Caller) {
	p := NewRequestBodyParser(w, r)
	if err := p.Parse(); err != nil {
		s.renderMessage(w, r, http.StatusBadRequest, NotificationError, "Formato de requisição inválido.")
		return
	}

	in := services.CreateInput{
		ServiceType:            core.ServiceType(strings.ToUpper(p.Get("service_type"))),
		Title:                  p.Get("title"),
		AdminOverrideRequested: p.Flag("admin_override"),
	}
	res, err := s.services.Create(r.Context(), caller, in)
	if err != nil {
		s.writeError(w, r, caller, string(core.ActionCreate), err)
		return
	}

	created := res.Service
	msg := message{Kind: NotificationSuccess, Text: "Serviço " + string(created.ServiceType) + ": " + created.Title + " criado."}
	if !created.IncludeInTotal {
		msg = message{
			Kind: NotificationWarning,
			Text: "Serviço criado, mas o título " + created.Title + " já existe. Ele fica fora do total até ser autorizado por um administrador.",
		}
	}
	b := NewHTMXResponse().
		TriggerServicesChanged(created.ID, string(core.MonthKeyOf(created.CreatedAt, s.location()))).
		TriggerFormReset()
	s.render(w, r, http.StatusCreated, "message", msg, b)
}

var actionMessages = map[core.Action]string{
	core.ActionAuthorize: "Serviço autorizado e incluído no total.",
	core.ActionRevoke:    "Autorização revogada. O serviço saiu do total.",
	core.ActionDelete:    "Serviço excluído.",
}

// handleAdminAction runs authorize, revoke or delete on the record in the
// path. The form carries the version the admin saw.
func (s *Server) handleAdminAction(action core.Action) callerHandler {
	return func(w http.ResponseWriter, r *http.Request, caller core.Caller) {
		id := r.PathValue("id")
		p := NewRequestBodyParser(w, r)
		if err := p.Parse(); err != nil {
			s.renderMessage(w, r, http.StatusBadRequest, NotificationError, "Formato de requisição inválido.")
			return
		}
		version, err := parseVersion(p.Get("version"))
		if err != nil {
			s.writeError(w, r, caller, string(action), err)
			return
		}

		month := ""
		switch action {
		case core.ActionAuthorize:
			var svc core.Service
			if svc, err = s.services.Authorize(r.Context(), caller, id, version); err == nil {
				month = string(core.MonthKeyOf(svc.CreatedAt, s.location()))
			}
		case core.ActionRevoke:
			var svc core.Service
			if svc, err = s.services.Revoke(r.Context(), caller, id, version); err == nil {
				month = string(core.MonthKeyOf(svc.CreatedAt, s.location()))
			}
		case core.ActionDelete:
			err = s.services.Delete(r.Context(), caller, id, version)
			month = string(s.services.CurrentMonth())
		}
		if err != nil {
			s.writeError(w, r, caller, string(action), err)
			return
		}

		s.render(w, r, http.StatusOK, "message",
			message{Kind: NotificationSuccess, Text: actionMessages[action]},
			NewHTMXResponse().TriggerServicesChanged(id, month))
	}
}
