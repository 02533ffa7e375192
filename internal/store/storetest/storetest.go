// Package storetest holds behaviour checks shared by every store.Store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"comissao/internal/core"
	"comissao/internal/store"
)

// Factory returns an empty store whose creation timestamps come from clock.
type Factory func(t *testing.T, clock *core.FakeClock) store.Store

// Run exercises stores built by newStore against the store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAssignsIdentity", func(t *testing.T) { testInsert(t, newStore) })
	t.Run("SelectFilters", func(t *testing.T) { testSelectFilters(t, newStore) })
	t.Run("SelectOrdersNewestFirst", func(t *testing.T) { testOrdering(t, newStore) })
	t.Run("UpdateBumpsVersion", func(t *testing.T) { testUpdate(t, newStore) })
	t.Run("UpdateConflict", func(t *testing.T) { testUpdateConflict(t, newStore) })
	t.Run("DeleteConflictAndNotFound", func(t *testing.T) { testDelete(t, newStore) })
}

func sample(title string, include bool) core.Service {
	return core.Service{
		Title:          title,
		ServiceType:    core.Prep,
		Price:          core.Money{Cents: 200},
		UserID:         "user_1",
		Username:       "ana",
		IncludeInTotal: include,
	}
}

func mustInsert(t *testing.T, s store.Store, svc core.Service) core.Service {
	t.Helper()
	got, err := s.Insert(context.Background(), svc)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return got
}

func testInsert(t *testing.T, newStore Factory) {
	clock := core.NewFakeClock(time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC))
	s := newStore(t, clock)

	got := mustInsert(t, s, sample("1001", true))
	if got.ID == "" {
		t.Fatal("Insert did not assign an id")
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if !got.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, clock.Now())
	}
	if got.Price.Cents != 200 || got.ServiceType != core.Prep || got.Username != "ana" {
		t.Errorf("Insert returned %+v", got)
	}

	other := mustInsert(t, s, sample("1001", true))
	if other.ID == got.ID {
		t.Fatal("two inserts share an id")
	}
}

func testSelectFilters(t *testing.T, newStore Factory) {
	clock := core.NewFakeClock(time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC))
	s := newStore(t, clock)
	ctx := context.Background()

	a := mustInsert(t, s, sample("1001", true))
	clock.Advance(time.Minute)
	mustInsert(t, s, sample("1001", false))
	clock.Advance(time.Minute)
	other := sample("2002", true)
	other.UserID = "user_2"
	mustInsert(t, s, other)

	tests := []struct {
		name string
		f    store.Filter
		want int
	}{
		{"all", store.Filter{}, 3},
		{"by title", store.Filter{Title: "1001"}, 2},
		{"by user", store.Filter{UserID: "user_2"}, 1},
		{"pending", store.Filter{IncludeInTotal: store.Bool(false)}, 1},
		{"included", store.Filter{IncludeInTotal: store.Bool(true)}, 2},
		{"by id", store.Filter{ID: a.ID}, 1},
		{"no match", store.Filter{Title: "9999"}, 0},
		{"title is exact", store.Filter{Title: "100"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Select(ctx, tt.f)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Select(%+v) returned %d rows, want %d", tt.f, len(got), tt.want)
			}
		})
	}
}

func testOrdering(t *testing.T, newStore Factory) {
	clock := core.NewFakeClock(time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC))
	s := newStore(t, clock)

	first := mustInsert(t, s, sample("1", true))
	clock.Advance(time.Hour)
	second := mustInsert(t, s, sample("2", true))

	got, err := s.Select(context.Background(), store.Filter{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 2 || got[0].ID != second.ID || got[1].ID != first.ID {
		t.Fatalf("Select order = %+v, want newest first", got)
	}
}

func testUpdate(t *testing.T, newStore Factory) {
	clock := core.NewFakeClock(time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC))
	s := newStore(t, clock)
	ctx := context.Background()

	created := mustInsert(t, s, sample("1001", false))
	updated, err := s.Update(ctx, created.ID, store.Patch{IncludeInTotal: true, AdminOverride: true}, created.Version)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !updated.IncludeInTotal || !updated.AdminOverride {
		t.Errorf("Update returned %+v", updated)
	}
	if updated.Version != created.Version+1 {
		t.Errorf("Version = %d, want %d", updated.Version, created.Version+1)
	}

	rows, err := s.Select(ctx, store.Filter{ID: created.ID})
	if err != nil || len(rows) != 1 {
		t.Fatalf("Select after update: %v %v", rows, err)
	}
	if !rows[0].IncludeInTotal || rows[0].Version != updated.Version {
		t.Errorf("stored row %+v does not reflect update", rows[0])
	}
}

func testUpdateConflict(t *testing.T, newStore Factory) {
	clock := core.NewFakeClock(time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC))
	s := newStore(t, clock)
	ctx := context.Background()

	created := mustInsert(t, s, sample("1001", false))
	if _, err := s.Update(ctx, created.ID, store.Patch{IncludeInTotal: true, AdminOverride: true}, created.Version); err != nil {
		t.Fatalf("Update: %v", err)
	}

	_, err := s.Update(ctx, created.ID, store.Patch{}, created.Version)
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("stale Update err = %v, want ConflictError", err)
	}

	rows, _ := s.Select(ctx, store.Filter{ID: created.ID})
	if len(rows) != 1 || !rows[0].IncludeInTotal {
		t.Fatalf("stale Update changed the record: %+v", rows)
	}

	if _, err := s.Update(ctx, "missing", store.Patch{}, 1); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Update(missing) err = %v, want ErrNotFound", err)
	}
}

func testDelete(t *testing.T, newStore Factory) {
	clock := core.NewFakeClock(time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC))
	s := newStore(t, clock)
	ctx := context.Background()

	created := mustInsert(t, s, sample("1001", true))

	err := s.Delete(ctx, created.ID, created.Version+5)
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("stale Delete err = %v, want ConflictError", err)
	}

	if err := s.Delete(ctx, created.ID, created.Version); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	rows, _ := s.Select(ctx, store.Filter{ID: created.ID})
	if len(rows) != 0 {
		t.Fatalf("record still present after Delete: %+v", rows)
	}

	if err := s.Delete(ctx, created.ID, created.Version); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second Delete err = %v, want ErrNotFound", err)
	}
}
