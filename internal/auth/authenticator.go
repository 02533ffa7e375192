// Package auth verifies identity-provider session tokens and turns them
// into the signed-out, loading or signed-in state of a request.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"comissao/internal/cache"
	"comissao/internal/core"
	"comissao/internal/log"
)

// SessionCookie is the cookie the identity provider's frontend SDK sets.
const SessionCookie = "__session"

const (
	defaultCacheSize   = 5000
	defaultCacheTTL    = 5 * time.Minute
	defaultRetryBase   = time.Second
	maxRetryDelay      = 30 * time.Second
	jwksRefresh        = time.Hour
	jwksRefreshLimit   = 5 * time.Minute
	jwksRequestTimeout = 10 * time.Second
)

var (
	ErrNoToken      = errors.New("no session token")
	ErrKeysNotReady = errors.New("verification keys not loaded")
)

// Config selects how tokens are verified. JWKSURL takes precedence over
// Secret when both are set.
type Config struct {
	JWKSURL   string
	Secret    string
	Issuer    string
	AdminRole string
	CacheTTL  time.Duration
	RetryBase time.Duration
}

type sessionClaims struct {
	Username       string `json:"username"`
	FirstName      string `json:"first_name"`
	Role           string `json:"role"`
	PublicMetadata struct {
		Role string `json:"role"`
	} `json:"public_metadata"`
	jwt.RegisteredClaims
}

// Authenticator verifies session tokens and caches the identities it derives.
type Authenticator struct {
	cfg    Config
	parser *jwt.Parser

	jwks  atomic.Pointer[keyfunc.JWKS]
	ready atomic.Bool

	identities *cache.LRUCache[core.Caller]

	startOnce sync.Once
	stop      context.CancelFunc
	done      chan struct{}
}

func New(cfg Config) (*Authenticator, error) {
	if cfg.JWKSURL == "" && cfg.Secret == "" {
		return nil, errors.New("auth: either a JWKS URL or a shared secret is required")
	}
	if cfg.AdminRole == "" {
		cfg.AdminRole = core.DefaultAdminRole
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}

	methods := []string{"HS256"}
	if cfg.JWKSURL != "" {
		methods = []string{"RS256", "ES256"}
	}

	a := &Authenticator{
		cfg:        cfg,
		parser:     jwt.NewParser(jwt.WithValidMethods(methods)),
		identities: cache.NewLRUCache[core.Caller](defaultCacheSize, cfg.CacheTTL),
		done:       make(chan struct{}),
	}
	if cfg.JWKSURL == "" {
		a.ready.Store(true)
	}
	return a, nil
}

// Start begins loading the JWKS in the background, retrying with
// exponential backoff until it succeeds or ctx ends. Secret mode needs no
// loading and Start only marks the background work finished.
func (a *Authenticator) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		if a.cfg.JWKSURL == "" {
			close(a.done)
			return
		}
		ctx, a.stop = context.WithCancel(ctx)
		go a.loadKeys(ctx)
	})
}

func (a *Authenticator) loadKeys(ctx context.Context) {
	defer close(a.done)

	for attempt := 0; ; attempt++ {
		jwks, err := keyfunc.Get(a.cfg.JWKSURL, keyfunc.Options{
			Ctx:               ctx,
			RefreshInterval:   jwksRefresh,
			RefreshRateLimit:  jwksRefreshLimit,
			RefreshTimeout:    jwksRequestTimeout,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				slog.WarnContext(ctx, "JWKS refresh failed", log.FieldComponent, log.ComponentAuth, log.FieldError, err)
			},
		})
		if err == nil {
			a.jwks.Store(jwks)
			a.ready.Store(true)
			slog.InfoContext(ctx, "Verification keys loaded",
				log.FieldComponent, log.ComponentAuth,
				"keys", jwks.Len())
			return
		}

		delay := a.backoff(attempt)
		slog.WarnContext(ctx, "Failed to load verification keys, retrying",
			log.FieldComponent, log.ComponentAuth,
			log.FieldError, err,
			"attempt", attempt+1,
			"retry_in", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (a *Authenticator) backoff(attempt int) time.Duration {
	d := a.cfg.RetryBase
	for i := 0; i < attempt && d < maxRetryDelay; i++ {
		d *= 2
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

// Close stops key loading and refreshing.
func (a *Authenticator) Close() {
	if a.stop != nil {
		a.stop()
		<-a.done
	}
	if jwks := a.jwks.Load(); jwks != nil {
		jwks.EndBackground()
	}
}

// Ready reports whether tokens can be verified.
func (a *Authenticator) Ready() bool { return a.ready.Load() }

// Identities exposes the identity cache for periodic cleanup.
func (a *Authenticator) Identities() cache.Cleaner { return a.identities }

// Verify checks a raw token and returns the caller it identifies.
func (a *Authenticator) Verify(raw string) (core.Caller, error) {
	if raw == "" {
		return core.Caller{}, ErrNoToken
	}
	if !a.Ready() {
		return core.Caller{}, ErrKeysNotReady
	}

	key := tokenKey(raw)
	if caller, ok := a.identities.Get(key); ok {
		return caller, nil
	}

	var claims sessionClaims
	if _, err := a.parser.ParseWithClaims(raw, &claims, a.keyFunc); err != nil {
		return core.Caller{}, fmt.Errorf("verify token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return core.Caller{}, errors.New("verify token: missing exp claim")
	}
	if claims.Subject == "" {
		return core.Caller{}, errors.New("verify token: missing sub claim")
	}
	if a.cfg.Issuer != "" && !claims.VerifyIssuer(a.cfg.Issuer, true) {
		return core.Caller{}, fmt.Errorf("verify token: unexpected issuer %q", claims.Issuer)
	}

	caller := callerFromClaims(claims, a.cfg.AdminRole)
	a.identities.SetWithTTL(key, caller, time.Until(claims.ExpiresAt.Time))
	return caller, nil
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	if jwks := a.jwks.Load(); jwks != nil {
		return jwks.Keyfunc(token)
	}
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return []byte(a.cfg.Secret), nil
}

func callerFromClaims(c sessionClaims, adminRole string) core.Caller {
	username := strings.TrimSpace(c.Username)
	if username == "" {
		username = strings.TrimSpace(c.FirstName)
	}
	if username == "" {
		username = "Unknown"
	}
	roleClaim := c.PublicMetadata.Role
	if roleClaim == "" {
		roleClaim = c.Role
	}
	return core.Caller{
		UserID:   c.Subject,
		Username: username,
		Role:     core.ResolveRole(roleClaim, adminRole),
	}
}

func tokenKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TokenFromRequest returns the session cookie, or the bearer token when
// there is no cookie.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Session is the identity state of one request.
type Session struct {
	State  core.AuthState
	Caller core.Caller
}

// Resolve derives the session of r. A token that cannot be checked yet
// yields Loading; a missing or invalid one yields SignedOut.
func (a *Authenticator) Resolve(r *http.Request) Session {
	raw := TokenFromRequest(r)
	if raw == "" {
		return Session{State: core.AuthSignedOut}
	}
	caller, err := a.Verify(raw)
	switch {
	case errors.Is(err, ErrKeysNotReady):
		return Session{State: core.AuthLoading}
	case err != nil:
		slog.DebugContext(r.Context(), "Rejected session token",
			log.FieldComponent, log.ComponentAuth,
			log.FieldError, err)
		return Session{State: core.AuthSignedOut}
	}
	return Session{State: core.AuthSignedIn, Caller: caller}
}

type sessionKey struct{}

// WithSession returns ctx carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session stored by Middleware; SignedOut when absent.
func SessionFrom(ctx context.Context) Session {
	if s, ok := ctx.Value(sessionKey{}).(Session); ok {
		return s
	}
	return Session{State: core.AuthSignedOut}
}

// Middleware resolves the session of every request and stores it in the
// request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := a.Resolve(r)
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
	})
}
