package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"comissao/internal/core"
	"comissao/internal/store"
	"comissao/internal/store/storetest"
)

func newTestRepo(t *testing.T, clock core.Clock) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "comissao.db"), clock)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock *core.FakeClock) store.Store {
		return newTestRepo(t, clock)
	})
}

func TestNullIncludeInTotalReadsAsIncluded(t *testing.T) {
	repo := newTestRepo(t, core.NewFakeClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	ctx := context.Background()

	_, err := repo.db.ExecContext(ctx, `INSERT INTO services (`+serviceColumns+`)
		VALUES ('legacy', '1001', 'PREP', 200, 'u1', 'ana', 0, 0, NULL, 0, 1)`)
	if err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	rows, err := repo.Select(ctx, store.Filter{IncludeInTotal: store.Bool(true)})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 || !rows[0].IncludeInTotal {
		t.Fatalf("legacy row = %+v, want included", rows)
	}

	pending, err := repo.Select(ctx, store.Filter{IncludeInTotal: store.Bool(false)})
	if err != nil || len(pending) != 0 {
		t.Fatalf("pending = %+v, %v; want none", pending, err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	for i := 0; i < 2; i++ {
		repo, err := NewSQLiteRepository(path, nil)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if err := repo.Ping(context.Background()); err != nil {
			t.Fatalf("ping %d: %v", i, err)
		}
		repo.Close()
	}
}
