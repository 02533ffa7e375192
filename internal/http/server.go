package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"comissao/internal/auth"
	"comissao/internal/cache"
	"comissao/internal/core"
	"comissao/internal/dupcheck"
	"comissao/internal/log"
	"comissao/internal/metrics"
	"comissao/internal/middleware/ratelimit"
	"comissao/internal/middleware/security"
	"comissao/internal/middleware/trace"
	"comissao/internal/services"
	appweb "comissao/web"
)

const (
	staticMaxAge = 24 * 60 * 60
	// loadingRefresh is how often the loading page polls, in seconds.
	loadingRefresh = 2
	readyTimeout   = 2 * time.Second
)

// DuplicateChecker is the debounced side of dupcheck.Detector.
type DuplicateChecker interface {
	Check(ctx context.Context, sessionKey, title string) (dupcheck.Result, error)
}

// Config holds the HTTP settings of the dashboard.
type Config struct {
	Addr               string
	SignInURL          string
	SignOutURL         string
	RateLimitPerMinute int
	// BlockSuspicious rejects requests the probe detector flags.
	BlockSuspicious bool
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Services   *services.ServiceManager
	Duplicates DuplicateChecker
	Policy     core.Policy
	Auth       *auth.Authenticator
	Metrics    *metrics.Metrics
	Logger     *log.Logger
}

// Server is the dashboard HTTP server.
type Server struct {
	*http.Server

	cfg       Config
	services  *services.ServiceManager
	dup       DuplicateChecker
	policy    core.Policy
	auth      *auth.Authenticator
	metrics   *metrics.Metrics
	logger    *log.Logger
	events    *log.StructuredLogger
	templates *template.Template
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	started   time.Time
}

// NewServer parses the embedded templates and wires routes and middleware.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Services == nil || deps.Duplicates == nil || deps.Policy == nil || deps.Auth == nil {
		return nil, errors.New("http: services, duplicates, policy and auth are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	tmpl, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	static, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static assets: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		services:  deps.Services,
		dup:       deps.Duplicates,
		policy:    deps.Policy,
		auth:      deps.Auth,
		metrics:   deps.Metrics,
		logger:    logger.WithComponent(log.ComponentHTTP),
		events:    log.NewStructuredLogger(logger),
		templates: tmpl,
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		detector:  security.NewDetector(),
		started:   time.Now(),
	}
	s.detector.Block = cfg.BlockSuspicious

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /ui/tab/{tab}", s.signedIn(s.handleTab))
	mux.HandleFunc("GET /ui/duplicate-check", s.signedIn(s.handleDuplicateCheck))
	mux.HandleFunc("POST /services", s.signedIn(s.handleCreate))
	mux.HandleFunc("POST /services/{id}/authorize", s.signedIn(s.handleAdminAction(core.ActionAuthorize)))
	mux.HandleFunc("POST /services/{id}/revoke", s.signedIn(s.handleAdminAction(core.ActionRevoke)))
	mux.HandleFunc("POST /services/{id}/delete", s.signedIn(s.handleAdminAction(core.ActionDelete)))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", deps.Metrics.Handler())
	mux.Handle("GET /static/", security.StaticAssetMiddleware(staticMaxAge)(
		http.StripPrefix("/static/", http.FileServerFS(static))))

	tracer := trace.NewMiddleware(logger, s.detector.ClientIP, deps.Metrics)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.limiter.Middleware(s.detector.ClientIP, s.handleRateLimited)

	var h http.Handler = mux
	h = deps.Auth.Middleware(h)
	h = limit(h)
	h = headers.Middleware(h)
	h = s.detector.Middleware(h)
	h = tracer.Middleware(h)

	s.Server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// RateLimitClients exposes the limiter's client table for periodic cleanup.
func (s *Server) RateLimitClients() cache.Cleaner { return s.limiter.Clients() }

type callerHandler func(w http.ResponseWriter, r *http.Request, caller core.Caller)

// signedIn passes the verified caller to next. Other sessions never reach
// the handler: a loading session gets 503, a signed-out one is sent to the
// sign-in page.
func (s *Server) signedIn(next callerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := auth.SessionFrom(r.Context())
		switch sess.State {
		case core.AuthSignedIn:
			next(w, r, sess.Caller)
		case core.AuthLoading:
			w.Header().Set("Retry-After", "2")
			s.renderMessage(w, r, http.StatusServiceUnavailable, NotificationInfo, "Carregando sessão, tente novamente em instantes.")
		default:
			w.Header().Set("HX-Redirect", "/")
			s.renderMessage(w, r, http.StatusUnauthorized, NotificationError, "Sua sessão expirou. Entre novamente.")
		}
	}
}

// render executes name into a buffer so a template failure never leaves a
// half-written response.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any, b *HTMXResponseBuilder) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.events.LogError(r.Context(), "Template execution failed", err, log.OpRender,
			log.NewFields().WithComponent(log.ComponentTemplate).With("template", name))
		http.Error(w, "Erro ao renderizar a página", http.StatusInternalServerError)
		return
	}
	if b == nil {
		b = NewHTMXResponse()
	}
	b.Status(status).HTML(buf.Bytes()).Write(w)
}

func (s *Server) renderMessage(w http.ResponseWriter, r *http.Request, status int, kind NotificationType, text string) {
	s.render(w, r, status, "message", message{Kind: kind, Text: text}, nil)
}

// writeError maps a domain error to its status and renders it as an inline
// message. Nothing else on the page changes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, caller core.Caller, action string, err error) {
	status, text := errorResponse(err)
	ctx := r.Context()
	switch {
	case status == http.StatusForbidden:
		s.events.LogDenied(ctx, caller, action, err)
	case status >= http.StatusInternalServerError:
		s.events.LogError(ctx, "Request failed", err, action, log.NewFields().WithCaller(caller))
	default:
		log.FromContext(ctx).WarnContext(ctx, "Request rejected",
			log.NewFields().WithCaller(caller).With(log.FieldAction, action).WithError(err).ToSlice()...)
	}
	s.renderMessage(w, r, status, NotificationError, text)
}

func errorResponse(err error) (int, string) {
	var (
		validation *core.ValidationError
		conflict   *core.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, capitalize(validation.Message)
	case core.IsAuthorization(err):
		return http.StatusForbidden, "Você não tem permissão para esta ação."
	case errors.As(err, &conflict):
		return http.StatusConflict, "Este serviço foi alterado por outra pessoa. Atualize a lista e tente novamente."
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "Serviço não encontrado. Ele pode ter sido excluído."
	case core.IsRemote(err):
		return http.StatusBadGateway, "Não foi possível falar com o banco de dados. Tente novamente."
	default:
		return http.StatusInternalServerError, "Erro inesperado. Tente novamente."
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] -= 'a' - 'A'
	}
	return string(r) + "."
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	s.render(w, r, http.StatusTooManyRequests, "message",
		message{Kind: NotificationError, Text: "Muitas requisições. Aguarde um minuto e tente novamente."},
		NewHTMXResponse().Retarget("#messages", "afterbegin"))
}
