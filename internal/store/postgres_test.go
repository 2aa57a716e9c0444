package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	model TestModel
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.model.ID
	*dest[1].(*string) = r.model.Name
	*dest[2].(*time.Time) = r.model.CreatedAt
	return nil
}

type fakeExecutor struct {
	row     fakeRow
	queries []string
}

func (f *fakeExecutor) QueryRow(_ context.Context, sql string, _ ...interface{}) pgx.Row {
	f.queries = append(f.queries, sql)
	return f.row
}

func (f *fakeExecutor) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeExecutor) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not implemented")
}

func TestPostgresStore_WritesCallHooks(t *testing.T) {
	created := time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("CEST", 2*3600))
	db := &fakeExecutor{row: fakeRow{model: TestModel{ID: 3, Name: "pg", CreatedAt: created}}}
	hooks := &recordingHooks{}
	s := &PostgresStore{db: db, notifier: notifier{hooks: hooks}}
	ctx := context.Background()

	m, err := s.Create(ctx, "pg")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, m.CreatedAt.Location())

	_, err = s.Update(ctx, 3, "pg2")
	require.NoError(t, err)
	_, err = s.Delete(ctx, 3)
	require.NoError(t, err)
	_, err = s.Get(ctx, 3)
	require.NoError(t, err)

	calls := hooks.snapshot()
	require.Len(t, calls, 3)
	assert.True(t, calls[0].created)
	assert.False(t, calls[1].created)
	assert.Equal(t, "delete", calls[2].op)

	require.Len(t, db.queries, 4)
	assert.Contains(t, db.queries[0], "RETURNING")
}

func TestPostgresStore_NilHooksForTriggerMode(t *testing.T) {
	db := &fakeExecutor{row: fakeRow{model: TestModel{ID: 1, Name: "x"}}}
	s := &PostgresStore{db: db}

	_, err := s.Create(context.Background(), "x")
	require.NoError(t, err)
}

func TestPgError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"no rows", pgx.ErrNoRows, ErrNotFound},
		{"check violation", &pgconn.PgError{Code: "23514", ConstraintName: "test_models_name_not_empty"}, ErrInvalidName},
		{"not null", &pgconn.PgError{Code: "23502"}, ErrInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, pgError("create", tt.err), tt.target)
		})
	}

	other := errors.New("connection reset")
	err := pgError("list", other)
	require.ErrorIs(t, err, other)
	assert.Contains(t, err.Error(), "postgres store: list")
}

func TestPostgresStore_MissingRow(t *testing.T) {
	s := &PostgresStore{db: &fakeExecutor{row: fakeRow{err: pgx.ErrNoRows}}, notifier: notifier{hooks: &recordingHooks{}}}

	_, err := s.Delete(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Health(t *testing.T) {
	s := &PostgresStore{db: &fakeExecutor{row: fakeRow{err: errors.New("connection refused")}}}

	err := s.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check failed")
}
