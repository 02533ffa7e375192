// Package memory is an in-process Store used for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"comissao/internal/core"
	"comissao/internal/store"
)

type Store struct {
	mu    sync.Mutex
	clock core.Clock
	items []core.Service
}

func New(clock core.Clock) *Store {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Store{clock: clock}
}

// Seed inserts records as-is, keeping their ids, timestamps and versions.
func (s *Store) Seed(records ...core.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, records...)
}

func (s *Store) Select(ctx context.Context, f store.Filter) ([]core.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Service, 0)
	for _, it := range s.items {
		if f.Matches(it) {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Insert(ctx context.Context, svc core.Service) (core.Service, error) {
	if err := ctx.Err(); err != nil {
		return core.Service{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	svc.ID = uuid.NewString()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	svc.Version = 1
	s.items = append(s.items, svc)
	return svc, nil
}

func (s *Store) Update(ctx context.Context, id string, p store.Patch, expectedVersion int64) (core.Service, error) {
	if err := ctx.Err(); err != nil {
		return core.Service{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.locate(id, expectedVersion)
	if err != nil {
		return core.Service{}, err
	}
	it := &s.items[i]
	it.IncludeInTotal = p.IncludeInTotal
	it.AdminOverride = p.AdminOverride
	it.Version++
	it.UpdatedAt = s.clock.Now()
	return *it, nil
}

func (s *Store) Delete(ctx context.Context, id string, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, err := s.locate(id, expectedVersion)
	if err != nil {
		return err
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) locate(id string, expectedVersion int64) (int, error) {
	for i, it := range s.items {
		if it.ID != id {
			continue
		}
		if it.Version != expectedVersion {
			return -1, &core.ConflictError{ID: id, Expected: expectedVersion, Actual: it.Version}
		}
		return i, nil
	}
	return -1, core.ErrNotFound
}
