// Package store defines the record store port used by the business layer.
package store

import (
	"context"

	"comissao/internal/core"
)

// Filter narrows Select. Zero fields do not filter.
type Filter struct {
	ID             string
	UserID         string
	Title          string
	IncludeInTotal *bool
}

// Patch carries the mutable inclusion fields of a record.
type Patch struct {
	IncludeInTotal bool
	AdminOverride  bool
}

// Store persists service records.
//
// Select returns records ordered by creation time, newest first. Insert
// assigns ID, CreatedAt and Version. Update and Delete return
// core.ErrNotFound for an unknown id and *core.ConflictError when the stored
// version differs from expectedVersion.
type Store interface {
	Select(ctx context.Context, f Filter) ([]core.Service, error)
	Insert(ctx context.Context, s core.Service) (core.Service, error)
	Update(ctx context.Context, id string, p Patch, expectedVersion int64) (core.Service, error)
	Delete(ctx context.Context, id string, expectedVersion int64) error
}

// Pinger is implemented by stores that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Bool returns a pointer to b, for Filter.IncludeInTotal.
func Bool(b bool) *bool { return &b }

// Matches reports whether s passes f.
func (f Filter) Matches(s core.Service) bool {
	if f.ID != "" && s.ID != f.ID {
		return false
	}
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	if f.Title != "" && s.Title != f.Title {
		return false
	}
	if f.IncludeInTotal != nil && s.IncludeInTotal != *f.IncludeInTotal {
		return false
	}
	return true
}
