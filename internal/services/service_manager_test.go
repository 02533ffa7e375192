package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"comissao/internal/amqp"
	"comissao/internal/authz"
	"comissao/internal/core"
	"comissao/internal/dupcheck"
	"comissao/internal/store"
	"comissao/internal/store/memory"
)

var (
	alice = core.Caller{UserID: "user_alice", Username: "alice", Role: core.RegularUser}
	bob   = core.Caller{UserID: "user_bob", Username: "bob", Role: core.RegularUser}
	admin = core.Caller{UserID: "user_admin", Username: "chefe", Role: core.AdminUser}
)

// spyStore counts calls and can fail them.
type spyStore struct {
	store.Store
	mu        sync.Mutex
	inserts   int
	updates   int
	deletes   int
	failWrite error
	failRead  error
}

func (s *spyStore) Select(ctx context.Context, f store.Filter) ([]core.Service, error) {
	s.mu.Lock()
	err := s.failRead
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.Select(ctx, f)
}

func (s *spyStore) Insert(ctx context.Context, svc core.Service) (core.Service, error) {
	s.mu.Lock()
	s.inserts++
	err := s.failWrite
	s.mu.Unlock()
	if err != nil {
		return core.Service{}, err
	}
	return s.Store.Insert(ctx, svc)
}

func (s *spyStore) Update(ctx context.Context, id string, p store.Patch, v int64) (core.Service, error) {
	s.mu.Lock()
	s.updates++
	err := s.failWrite
	s.mu.Unlock()
	if err != nil {
		return core.Service{}, err
	}
	return s.Store.Update(ctx, id, p, v)
}

func (s *spyStore) Delete(ctx context.Context, id string, v int64) error {
	s.mu.Lock()
	s.deletes++
	err := s.failWrite
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Delete(ctx, id, v)
}

func (s *spyStore) setFailWrite(err error) {
	s.mu.Lock()
	s.failWrite = err
	s.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.ServiceEventMessage
	err    error
}

func (p *recordingPublisher) PublishServiceEvent(_ context.Context, msg *amqp.ServiceEventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, msg)
	return nil
}

func (p *recordingPublisher) kinds() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Event
	}
	return out
}

type fixture struct {
	mgr   *ServiceManager
	store *spyStore
	mem   *memory.Store
	pub   *recordingPublisher
	clock *core.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	policy, err := authz.New()
	if err != nil {
		t.Fatalf("authz.New: %v", err)
	}
	clock := core.NewFakeClock(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))
	mem := memory.New(clock)
	spy := &spyStore{Store: mem}
	pub := &recordingPublisher{}
	mgr := NewServiceManager(spy, policy, dupcheck.New(spy, dupcheck.Config{}), pub, nil, Config{
		Location: time.UTC,
		Clock:    clock,
	})
	return &fixture{mgr: mgr, store: spy, mem: mem, pub: pub, clock: clock}
}

func (f *fixture) create(t *testing.T, caller core.Caller, title string, override bool) core.Service {
	t.Helper()
	res, err := f.mgr.Create(context.Background(), caller, CreateInput{
		ServiceType:            core.Assembly,
		Title:                  title,
		AdminOverrideRequested: override,
	})
	if err != nil {
		t.Fatalf("Create(%q): %v", title, err)
	}
	return res.Service
}

func TestCreate_FirstTitleIsIncluded(t *testing.T) {
	f := newFixture(t)

	s := f.create(t, alice, "1001", false)
	if !s.IncludeInTotal || s.AdminOverride {
		t.Fatalf("got include=%v override=%v, want true/false", s.IncludeInTotal, s.AdminOverride)
	}
	if s.Price.Cents != 500 {
		t.Errorf("price = %d, want 500 from the table", s.Price.Cents)
	}
	if s.UserID != alice.UserID || s.Username != "alice" {
		t.Errorf("creator = %s/%s", s.UserID, s.Username)
	}
	if kinds := f.pub.kinds(); len(kinds) != 1 || kinds[0] != amqp.EventCreated {
		t.Errorf("events = %v, want [service.created]", kinds)
	}
}

func TestCreate_DuplicateRule(t *testing.T) {
	tests := []struct {
		name         string
		caller       core.Caller
		override     bool
		wantInclude  bool
		wantOverride bool
	}{
		{"regular user", alice, false, false, false},
		{"regular user asking override", alice, true, false, false},
		{"admin without override", admin, false, false, false},
		{"admin with override", admin, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.create(t, bob, "1001", false)

			res, err := f.mgr.Create(context.Background(), tt.caller, CreateInput{
				ServiceType:            core.Prep,
				Title:                  " 1001 ",
				AdminOverrideRequested: tt.override,
			})
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if res.Service.IncludeInTotal != tt.wantInclude || res.Service.AdminOverride != tt.wantOverride {
				t.Errorf("include=%v override=%v, want %v/%v",
					res.Service.IncludeInTotal, res.Service.AdminOverride, tt.wantInclude, tt.wantOverride)
			}
			if len(res.Duplicates) != 1 {
				t.Errorf("duplicates = %d, want 1", len(res.Duplicates))
			}
			if res.Service.Title != "1001" {
				t.Errorf("title stored as %q, want trimmed", res.Service.Title)
			}
		})
	}
}

func TestCreate_ValidationNeverReachesStore(t *testing.T) {
	f := newFixture(t)
	f.mgr.prices = core.PriceTable{core.Assembly: {Cents: -100}, core.Prep: {Cents: 200}}

	tests := []struct {
		name      string
		in        CreateInput
		wantField string
	}{
		{"empty title", CreateInput{ServiceType: core.Prep, Title: ""}, "title"},
		{"blank title", CreateInput{ServiceType: core.Prep, Title: "  "}, "title"},
		{"negative price", CreateInput{ServiceType: core.Assembly, Title: "1"}, "price"},
		{"unknown type", CreateInput{ServiceType: "CROWN", Title: "1"}, "service_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.Create(context.Background(), alice, tt.in)
			var ve *core.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("field = %s, want %s", ve.Field, tt.wantField)
			}
		})
	}
	if f.store.inserts != 0 {
		t.Fatalf("store saw %d inserts, want 0", f.store.inserts)
	}
}

func TestCreate_RemoteFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.store.setFailWrite(errors.New("upstream timeout"))

	in := CreateInput{ServiceType: core.Bar, Title: "77"}
	_, err := f.mgr.Create(context.Background(), alice, in)
	if !core.IsRemote(err) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if f.mem.Len() != 0 {
		t.Fatalf("failed create left %d records", f.mem.Len())
	}
	if len(f.pub.kinds()) != 0 {
		t.Fatal("failed create published an event")
	}

	f.store.setFailWrite(nil)
	res, err := f.mgr.Create(context.Background(), alice, in)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !res.Service.IncludeInTotal {
		t.Fatal("retry should not see its own failed attempt as a duplicate")
	}
}

func TestCreate_DuplicateLookupFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failRead = errors.New("connection refused")

	_, err := f.mgr.Create(context.Background(), alice, CreateInput{ServiceType: core.Bar, Title: "1"})
	if !core.IsRemote(err) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if f.store.inserts != 0 {
		t.Fatal("insert attempted after failed duplicate check")
	}
}

func TestCreate_PublishFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	if _, err := f.mgr.Create(context.Background(), alice, CreateInput{ServiceType: core.Bar, Title: "1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.mem.Len() != 1 {
		t.Fatal("record not stored")
	}
}

func TestAuthorizeAndRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, alice, "1001", false)
	dup := f.create(t, alice, "1001", false)
	if dup.IncludeInTotal {
		t.Fatal("duplicate should start excluded")
	}

	authorized, err := f.mgr.Authorize(ctx, admin, dup.ID, dup.Version)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !authorized.IncludeInTotal || !authorized.AdminOverride {
		t.Fatalf("after authorize include=%v override=%v", authorized.IncludeInTotal, authorized.AdminOverride)
	}

	revoked, err := f.mgr.Revoke(ctx, admin, dup.ID, authorized.Version)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if revoked.IncludeInTotal || revoked.AdminOverride {
		t.Fatalf("after revoke include=%v override=%v", revoked.IncludeInTotal, revoked.AdminOverride)
	}

	want := []amqp.EventType{amqp.EventCreated, amqp.EventCreated, amqp.EventAuthorized, amqp.EventRevoked}
	got := f.pub.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestAdminActionsRejectRegularUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, alice, "1001", false)
	dup := f.create(t, alice, "1001", false)

	if _, err := f.mgr.Authorize(ctx, alice, dup.ID, dup.Version); !core.IsAuthorization(err) {
		t.Errorf("Authorize err = %v, want AuthorizationError", err)
	}
	if _, err := f.mgr.Revoke(ctx, alice, dup.ID, dup.Version); !core.IsAuthorization(err) {
		t.Errorf("Revoke err = %v, want AuthorizationError", err)
	}
	if err := f.mgr.Delete(ctx, alice, dup.ID, dup.Version); !core.IsAuthorization(err) {
		t.Errorf("Delete err = %v, want AuthorizationError", err)
	}
	if f.store.updates != 0 || f.store.deletes != 0 {
		t.Fatalf("store saw %d updates and %d deletes, want none", f.store.updates, f.store.deletes)
	}

	rows, _ := f.mem.Select(ctx, store.Filter{ID: dup.ID})
	if len(rows) != 1 || rows[0].IncludeInTotal || rows[0].Version != dup.Version {
		t.Fatalf("record changed: %+v", rows)
	}
}

func TestStaleVersionConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, alice, "1", false)

	if _, err := f.mgr.Revoke(ctx, admin, s.ID, s.Version); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	// second admin still holds the old version
	if _, err := f.mgr.Authorize(ctx, admin, s.ID, s.Version); !core.IsConflict(err) {
		t.Fatalf("stale Authorize err = %v, want ConflictError", err)
	}
	if err := f.mgr.Delete(ctx, admin, s.ID, s.Version); !core.IsConflict(err) {
		t.Fatalf("stale Delete err = %v, want ConflictError", err)
	}
	if _, err := f.mgr.Authorize(ctx, admin, "missing", 1); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Authorize(missing) err = %v, want ErrNotFound", err)
	}
}

func TestDeleteOnlyCurrentMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.create(t, alice, "old", false)
	f.clock.Advance(31 * 24 * time.Hour) // now in April
	recent := f.create(t, alice, "recent", false)

	err := f.mgr.Delete(ctx, admin, old.ID, old.Version)
	if !core.IsAuthorization(err) {
		t.Fatalf("Delete(prior month) err = %v, want AuthorizationError", err)
	}
	if rows, _ := f.mem.Select(ctx, store.Filter{ID: old.ID}); len(rows) != 1 {
		t.Fatal("prior-month record was removed")
	}

	if err := f.mgr.Delete(ctx, admin, recent.ID, recent.Version); err != nil {
		t.Fatalf("Delete(current month): %v", err)
	}
	if rows, _ := f.mem.Select(ctx, store.Filter{ID: recent.ID}); len(rows) != 0 {
		t.Fatal("current-month record still present")
	}
	if err := f.mgr.Delete(ctx, admin, recent.ID, recent.Version); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second Delete err = %v, want ErrNotFound", err)
	}
}

func TestDeleteRemoteFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, alice, "1", false)

	f.store.setFailWrite(errors.New("503"))
	if err := f.mgr.Delete(ctx, admin, s.ID, s.Version); !core.IsRemote(err) {
		t.Fatalf("Delete err = %v, want RemoteError", err)
	}
	if f.mem.Len() != 1 {
		t.Fatal("record removed despite remote failure")
	}
}

func TestListScopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, alice, "1", false)
	f.create(t, bob, "1", false) // duplicate, pending
	f.create(t, bob, "2", false)

	tests := []struct {
		name    string
		caller  core.Caller
		scope   core.Scope
		want    int
		wantErr bool
	}{
		{"own alice", alice, core.ScopeOwn, 1, false},
		{"own bob", bob, core.ScopeOwn, 2, false},
		{"all admin", admin, core.ScopeAll, 3, false},
		{"pending admin", admin, core.ScopePending, 1, false},
		{"all regular", alice, core.ScopeAll, 0, true},
		{"pending regular", bob, core.ScopePending, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := f.mgr.List(ctx, tt.caller, tt.scope)
			if tt.wantErr {
				if !core.IsAuthorization(err) {
					t.Fatalf("err = %v, want AuthorizationError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(rows) != tt.want {
				t.Errorf("List returned %d rows, want %d", len(rows), tt.want)
			}
		})
	}
}

func TestMonthsGroupsScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, alice, "1", false)
	f.clock.Advance(20 * 24 * time.Hour) // April 4th
	f.create(t, alice, "2", false)
	f.create(t, alice, "2", false)

	groups, err := f.mgr.Months(ctx, alice, core.ScopeOwn)
	if err != nil {
		t.Fatalf("Months: %v", err)
	}
	if len(groups) != 2 || groups[0].Key != "2024-04" || groups[1].Key != "2024-03" {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0].Included.Cents != 500 || groups[0].Pending.Cents != 500 {
		t.Errorf("april included=%d pending=%d", groups[0].Included.Cents, groups[0].Pending.Cents)
	}
	if f.mgr.CurrentMonth() != "2024-04" {
		t.Errorf("CurrentMonth() = %s", f.mgr.CurrentMonth())
	}
}

type downStore struct {
	*memory.Store
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestPing(t *testing.T) {
	f := newFixture(t)
	if err := f.mgr.Ping(context.Background()); err != nil {
		t.Fatalf("store without health check: %v", err)
	}

	clock := core.NewFakeClock(time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC))
	st := downStore{memory.New(clock)}
	pol, err := authz.New()
	if err != nil {
		t.Fatal(err)
	}
	mgr := NewServiceManager(st, pol, dupcheck.New(st, dupcheck.Config{}), nil, nil, Config{Clock: clock})
	if err := mgr.Ping(context.Background()); !core.IsRemote(err) {
		t.Fatalf("Ping() err = %v, want RemoteError", err)
	}
}
