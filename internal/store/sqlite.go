package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore is the single-process store. Hooks run in the writing
// process after each commit.
type SQLiteStore struct {
	db *sql.DB
	notifier
}

// NewSQLiteStore opens (or creates) a SQLite database at dsn
func NewSQLiteStore(ctx context.Context, dsn string, hooks Hooks) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}

	// One connection serialises writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite store: create schema: %w", err)
	}

	log.Info().Str("dsn", dsn).Msg("SQLite store opened")
	return &SQLiteStore{db: db, notifier: notifier{hooks: hooks}}, nil
}

// Create inserts a model
func (s *SQLiteStore) Create(ctx context.Context, name string) (*TestModel, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	m := &TestModel{Name: name, CreatedAt: time.Now().UTC()}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO test_models (name, created_at) VALUES (?, ?)`,
		m.Name, m.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("sqlite store: create: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("sqlite store: create: %w", err)
	}

	s.saved(ctx, m, true)
	return m, nil
}

// Get returns the model with id
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*TestModel, error) {
	return getSQLite(ctx, s.db, id)
}

type sqliteQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSQLite(ctx context.Context, q sqliteQueryer, id int64) (*TestModel, error) {
	row := q.QueryRowContext(ctx, `SELECT id, name, created_at FROM test_models WHERE id = ?`, id)
	m, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get: %w", err)
	}
	return m, nil
}

// List returns every model ordered by id
func (s *SQLiteStore) List(ctx context.Context) ([]TestModel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM test_models ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list: %w", err)
	}
	defer rows.Close()

	models := []TestModel{}
	for rows.Next() {
		m, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: list: %w", err)
		}
		models = append(models, *m)
	}
	return models, rows.Err()
}

// Update renames a model
func (s *SQLiteStore) Update(ctx context.Context, id int64, name string) (*TestModel, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	var m *TestModel
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE test_models SET name = ? WHERE id = ?`, name, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		m, err = getSQLite(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.saved(ctx, m, false)
	return m, nil
}

// Delete removes a model and returns it as it was
func (s *SQLiteStore) Delete(ctx context.Context, id int64) (*TestModel, error) {
	var m *TestModel
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if m, err = getSQLite(ctx, tx, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM test_models WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.deleted(ctx, m)
	return m, nil
}

// Health pings the database
func (s *SQLiteStore) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite store: health check failed: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("sqlite store: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (*TestModel, error) {
	var (
		m         TestModel
		createdAt string
	)
	if err := row.Scan(&m.ID, &m.Name, &createdAt); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	m.CreatedAt = t
	return &m, nil
}
