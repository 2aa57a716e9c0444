package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxbase-eu/gqlsubs/internal/database"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgExecutor is the subset of database.Connection the store uses
type pgExecutor interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PostgresStore keeps test models in PostgreSQL. With nil hooks, change
// notifications come from the table trigger instead.
type PostgresStore struct {
	db pgExecutor
	notifier
}

// NewPostgresStore creates a store on an open connection
func NewPostgresStore(conn *database.Connection, hooks Hooks) *PostgresStore {
	return &PostgresStore{db: conn, notifier: notifier{hooks: hooks}}
}

// Create inserts a model
func (s *PostgresStore) Create(ctx context.Context, name string) (*TestModel, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	m, err := scanPostgres(s.db.QueryRow(ctx,
		`INSERT INTO test_models (name) VALUES ($1) RETURNING id, name, created_at`, name))
	if err != nil {
		return nil, pgError("create", err)
	}

	s.saved(ctx, m, true)
	return m, nil
}

// Get returns the model with id
func (s *PostgresStore) Get(ctx context.Context, id int64) (*TestModel, error) {
	m, err := scanPostgres(s.db.QueryRow(ctx,
		`SELECT id, name, created_at FROM test_models WHERE id = $1`, id))
	if err != nil {
		return nil, pgError("get", err)
	}
	return m, nil
}

// List returns every model ordered by id
func (s *PostgresStore) List(ctx context.Context) ([]TestModel, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, created_at FROM test_models ORDER BY id ASC`)
	if err != nil {
		return nil, pgError("list", err)
	}

	models, err := pgx.CollectRows(rows, pgx.RowToStructByPos[TestModel])
	if err != nil {
		return nil, pgError("list", err)
	}
	return models, nil
}

// Update renames a model
func (s *PostgresStore) Update(ctx context.Context, id int64, name string) (*TestModel, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	m, err := scanPostgres(s.db.QueryRow(ctx,
		`UPDATE test_models SET name = $1 WHERE id = $2 RETURNING id, name, created_at`, name, id))
	if err != nil {
		return nil, pgError("update", err)
	}

	s.saved(ctx, m, false)
	return m, nil
}

// Delete removes a model and returns it as it was
func (s *PostgresStore) Delete(ctx context.Context, id int64) (*TestModel, error) {
	m, err := scanPostgres(s.db.QueryRow(ctx,
		`DELETE FROM test_models WHERE id = $1 RETURNING id, name, created_at`, id))
	if err != nil {
		return nil, pgError("delete", err)
	}

	s.deleted(ctx, m)
	return m, nil
}

// Health runs a trivial query
func (s *PostgresStore) Health(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("postgres store: health check failed: %w", err)
	}
	return nil
}

// Close is a no-op; the connection is owned by the caller
func (s *PostgresStore) Close() error {
	return nil
}

func scanPostgres(row pgx.Row) (*TestModel, error) {
	var m TestModel
	if err := row.Scan(&m.ID, &m.Name, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

func pgError(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case database.IsCheckViolation(err), database.IsNotNullViolation(err):
		return fmt.Errorf("%w (constraint %s)", ErrInvalidName, database.GetConstraintName(err))
	default:
		return fmt.Errorf("postgres store: %s: %w", op, err)
	}
}
