package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"comissao/internal/core"
	"comissao/internal/store"

	_ "modernc.org/sqlite"
)

const serviceColumns = `id, title, service_type, price_cents, user_id, username,
	created_at, updated_at, include_in_total, admin_override, version`

type SQLiteRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewSQLiteRepository(dbPath string, clock core.Clock) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// a single connection serializes writers and keeps version checks atomic
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if clock == nil {
		clock = core.SystemClock{}
	}
	return &SQLiteRepository{db: db, clock: clock}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Select implements store.Store.
func (r *SQLiteRepository) Select(ctx context.Context, f store.Filter) ([]core.Service, error) {
	var (
		where []string
		args  []any
	)
	if f.ID != "" {
		where = append(where, "id = ?")
		args = append(args, f.ID)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Title != "" {
		where = append(where, "title = ?")
		args = append(args, f.Title)
	}
	if f.IncludeInTotal != nil {
		if *f.IncludeInTotal {
			where = append(where, "(include_in_total IS NULL OR include_in_total = 1)")
		} else {
			where = append(where, "include_in_total = 0")
		}
	}

	query := "SELECT " + serviceColumns + " FROM services"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select services: %w", err)
	}
	defer rows.Close()

	out := make([]core.Service, 0)
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return out, nil
}

// Insert implements store.Store.
func (r *SQLiteRepository) Insert(ctx context.Context, s core.Service) (core.Service, error) {
	now := r.clock.Now()
	s.ID = uuid.NewString()
	s.CreatedAt = now
	s.UpdatedAt = now
	s.Version = 1

	_, err := r.db.ExecContext(ctx, `INSERT INTO services (`+serviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Title, string(s.ServiceType), s.Price.Cents, s.UserID, s.Username,
		now.UnixMilli(), now.UnixMilli(), s.IncludeInTotal, s.AdminOverride, s.Version)
	if err != nil {
		return core.Service{}, fmt.Errorf("insert service: %w", err)
	}

	slog.DebugContext(ctx, "Service saved to SQLite",
		"service_id", s.ID,
		"title", s.Title,
		"service_type", s.ServiceType,
		"price_cents", s.Price.Cents,
		"included", s.IncludeInTotal)

	return s, nil
}

// Update implements store.Store.
func (r *SQLiteRepository) Update(ctx context.Context, id string, p store.Patch, expectedVersion int64) (core.Service, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Service{}, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE services
		SET include_in_total = ?, admin_override = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		p.IncludeInTotal, p.AdminOverride, r.clock.Now().UnixMilli(), id, expectedVersion)
	if err != nil {
		return core.Service{}, fmt.Errorf("update service %s: %w", id, err)
	}
	if err := checkAffected(ctx, tx, res, id, expectedVersion); err != nil {
		return core.Service{}, err
	}

	row := tx.QueryRowContext(ctx, "SELECT "+serviceColumns+" FROM services WHERE id = ?", id)
	s, err := scanService(row)
	if err != nil {
		return core.Service{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.Service{}, fmt.Errorf("commit update: %w", err)
	}
	return s, nil
}

// Delete implements store.Store.
func (r *SQLiteRepository) Delete(ctx context.Context, id string, expectedVersion int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM services WHERE id = ? AND version = ?", id, expectedVersion)
	if err != nil {
		return fmt.Errorf("delete service %s: %w", id, err)
	}
	if err := checkAffected(ctx, tx, res, id, expectedVersion); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// checkAffected turns a zero-row write into ErrNotFound or a ConflictError.
func checkAffected(ctx context.Context, tx *sql.Tx, res sql.Result, id string, expected int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var actual int64
	err = tx.QueryRowContext(ctx, "SELECT version FROM services WHERE id = ?", id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read version of %s: %w", id, err)
	}
	return &core.ConflictError{ID: id, Expected: expected, Actual: actual}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (core.Service, error) {
	var (
		s                    core.Service
		serviceType          string
		createdAt, updatedAt int64
		include              sql.NullBool
	)
	err := row.Scan(&s.ID, &s.Title, &serviceType, &s.Price.Cents, &s.UserID, &s.Username,
		&createdAt, &updatedAt, &include, &s.AdminOverride, &s.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Service{}, core.ErrNotFound
	}
	if err != nil {
		return core.Service{}, fmt.Errorf("scan service: %w", err)
	}
	s.ServiceType = core.ServiceType(serviceType)
	s.CreatedAt = time.UnixMilli(createdAt).UTC()
	s.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	// rows written before the column existed count as included
	s.IncludeInTotal = !include.Valid || include.Bool
	return s, nil
}
