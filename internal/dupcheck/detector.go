// Package dupcheck finds existing services that share a title with a
// candidate, both as a debounced check while the user types and as an
// immediate, uncoalesced recheck at submission.
//
// Every debounced call takes the next sequence number of its session and
// cancels the call it replaces. A call that is no longer the newest when it
// finishes returns ErrSuperseded instead of a result, so a stale answer can
// never overwrite a newer one.
package dupcheck

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"comissao/internal/cache"
	"comissao/internal/core"
	"comissao/internal/store"
)

// ErrSuperseded is returned by Check when a newer check for the same session
// was started before this one completed.
var ErrSuperseded = errors.New("duplicate check superseded")

const (
	DefaultDebounce = 500 * time.Millisecond
	defaultTimeout  = 5 * time.Second
	maxSessions     = 10000
	sessionTTL      = 30 * time.Minute
)

// Finder is the read side of store.Store.
type Finder interface {
	Select(ctx context.Context, f store.Filter) ([]core.Service, error)
}

// Result is the outcome of one lookup.
type Result struct {
	Title   string
	Seq     uint64
	Matches []core.Service
}

// Duplicate reports whether any existing record shares the title.
func (r Result) Duplicate() bool { return len(r.Matches) > 0 }

type session struct {
	seq    uint64
	cancel context.CancelFunc
}

// Config tunes a Detector.
type Config struct {
	Debounce time.Duration
	Timeout  time.Duration
}

type Detector struct {
	finder   Finder
	debounce time.Duration
	timeout  time.Duration

	group    singleflight.Group
	mu       sync.Mutex
	sessions *cache.LRUCache[*session]
}

func New(finder Finder, cfg Config) *Detector {
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Detector{
		finder:   finder,
		debounce: cfg.Debounce,
		timeout:  cfg.Timeout,
		sessions: cache.NewLRUCache[*session](maxSessions, sessionTTL),
	}
}

// Sessions exposes the session cache so it can be registered for cleanup.
func (d *Detector) Sessions() cache.Cleaner { return d.sessions }

// Check waits for the debounce window, then looks up title. sessionKey
// groups calls that supersede each other, typically one per user form.
func (d *Detector) Check(ctx context.Context, sessionKey, title string) (Result, error) {
	s, seq, ctx, done := d.begin(ctx, sessionKey)
	defer done()

	if d.debounce > 0 {
		timer := time.NewTimer(d.debounce)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Result{}, d.cancelled(sessionKey, s, seq, ctx.Err())
		}
	}

	matches, err := d.Lookup(ctx, title)
	if !d.current(sessionKey, s, seq) {
		return Result{}, ErrSuperseded
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Title: core.NormalizeTitle(title), Seq: seq, Matches: matches}, nil
}

// Lookup returns records whose title equals the trimmed candidate, with no
// debounce. An empty candidate matches nothing and does not hit the store.
// Concurrent lookups of the same title share one store call.
func (d *Detector) Lookup(ctx context.Context, title string) ([]core.Service, error) {
	title = core.NormalizeTitle(title)
	if title == "" {
		return nil, nil
	}

	ch := d.group.DoChan(title, func() (any, error) {
		// detached so one caller's cancellation does not fail the others
		return d.query(context.WithoutCancel(ctx), title)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("lookup title %q: %w", title, res.Err)
		}
		shared := res.Val.([]core.Service)
		return append([]core.Service(nil), shared...), nil
	}
}

// Recheck queries the store for title with a call of its own. It never joins
// a lookup that is already in flight, so the answer reflects the store as it
// was after Recheck was called.
func (d *Detector) Recheck(ctx context.Context, title string) ([]core.Service, error) {
	title = core.NormalizeTitle(title)
	if title == "" {
		return nil, nil
	}
	matches, err := d.query(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("recheck title %q: %w", title, err)
	}
	return matches, nil
}

func (d *Detector) query(ctx context.Context, title string) ([]core.Service, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.finder.Select(ctx, store.Filter{Title: title})
}

// begin registers a new call for sessionKey and cancels the one it replaces.
func (d *Detector) begin(parent context.Context, sessionKey string) (*session, uint64, context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	d.mu.Lock()
	s, ok := d.sessions.Get(sessionKey)
	if !ok {
		s = &session{}
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	s.cancel = cancel
	seq := s.seq
	d.sessions.Set(sessionKey, s)
	d.mu.Unlock()

	return s, seq, ctx, func() {
		cancel()
		d.mu.Lock()
		if s.seq == seq {
			s.cancel = nil
		}
		d.mu.Unlock()
	}
}

func (d *Detector) current(sessionKey string, s *session, seq uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	latest, ok := d.sessions.Get(sessionKey)
	return ok && latest == s && s.seq == seq
}

func (d *Detector) cancelled(sessionKey string, s *session, seq uint64, err error) error {
	if !d.current(sessionKey, s, seq) {
		return ErrSuperseded
	}
	return err
}
