// Package store persists test models and reports committed writes to hooks.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fluxbase-eu/gqlsubs/internal/events"
)

// TestModelKind is the registered record kind of TestModel
const TestModelKind = "test_model"

var (
	// ErrNotFound is returned when no model has the requested id
	ErrNotFound = errors.New("test model not found")

	// ErrInvalidName is returned for an empty model name
	ErrInvalidName = errors.New("name must not be empty")
)

// Tables maps database tables to record kinds for change notifications
var Tables = map[string]string{
	"test_models": TestModelKind,
}

// TestModel is the record type exposed to subscriptions
type TestModel struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterTypes registers every record type of this package
func RegisterTypes(r *events.Registry) error {
	return events.Register(r, TestModelKind, func(m TestModel) map[string]interface{} {
		return map[string]interface{}{
			"id":         m.ID,
			"name":       m.Name,
			"created_at": m.CreatedAt.UTC(),
		}
	})
}

// Hooks receives notifications for committed writes. A hook error never
// undoes the write.
type Hooks interface {
	PostSave(ctx context.Context, record interface{}, created bool) error
	PostDelete(ctx context.Context, record interface{}) error
}

// Store is the persistence layer for TestModel
type Store interface {
	Create(ctx context.Context, name string) (*TestModel, error)
	Get(ctx context.Context, id int64) (*TestModel, error)
	List(ctx context.Context) ([]TestModel, error)
	Update(ctx context.Context, id int64, name string) (*TestModel, error)
	Delete(ctx context.Context, id int64) (*TestModel, error)
	Health(ctx context.Context) error
	Close() error
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}
