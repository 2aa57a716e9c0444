package events

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

type recordType struct {
	kind     string
	typ      reflect.Type
	snapshot func(v interface{}) map[string]interface{}
	decode   func(raw json.RawMessage) (map[string]interface{}, error)
}

// Registry is the table of record kinds that may travel inside events.
// Producers register how a Go type is snapshotted; consumers use the same
// table to rebuild records from the wire without any dynamic type lookup.
type Registry struct {
	mu     sync.RWMutex
	byKind map[string]*recordType
	byType map[reflect.Type]*recordType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byKind: make(map[string]*recordType),
		byType: make(map[reflect.Type]*recordType),
	}
}

// Register adds T under kind. The snapshot function must return only plain
// attribute data and its keys must match T's JSON field names, since records
// decoded from the wire are unmarshalled into T and snapshotted again.
func Register[T any](r *Registry, kind string, snapshot func(T) map[string]interface{}) error {
	if kind == "" {
		return fmt.Errorf("record kind must not be empty")
	}
	if snapshot == nil {
		return fmt.Errorf("record kind %q: snapshot function is required", kind)
	}

	typ := reflect.TypeOf((*T)(nil)).Elem()
	rt := &recordType{
		kind: kind,
		typ:  typ,
		snapshot: func(v interface{}) map[string]interface{} {
			return snapshot(v.(T))
		},
		decode: func(raw json.RawMessage) (map[string]interface{}, error) {
			var value T
			if err := json.Unmarshal(raw, &value); err != nil {
				return nil, err
			}
			return snapshot(value), nil
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKind[kind]; exists {
		return fmt.Errorf("record kind %q already registered", kind)
	}
	if prev, exists := r.byType[typ]; exists {
		return fmt.Errorf("type %s already registered as %q", typ, prev.kind)
	}
	r.byKind[kind] = rt
	r.byType[typ] = rt
	return nil
}

// MustRegister is Register that panics on error. Intended for init paths.
func MustRegister[T any](r *Registry, kind string, snapshot func(T) map[string]interface{}) {
	if err := Register(r, kind, snapshot); err != nil {
		panic(err)
	}
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byKind[kind]
	return ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Snapshot converts a registered value (or a pointer to one) into a Record.
func (r *Registry) Snapshot(v interface{}) (Record, error) {
	if v == nil {
		return Record{}, fmt.Errorf("%w: <nil>", ErrUnknownRecordType)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return Record{}, fmt.Errorf("%w: nil %s", ErrUnknownRecordType, rv.Type())
		}
		rv = rv.Elem()
	}

	r.mu.RLock()
	rt, ok := r.byType[rv.Type()]
	r.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownRecordType, rv.Type())
	}

	return Record{kind: rt.kind, fields: rt.snapshot(rv.Interface())}, nil
}

// DecodeRecord rebuilds a Record of the given kind from its JSON attributes.
func (r *Registry) DecodeRecord(kind string, raw json.RawMessage) (Record, error) {
	r.mu.RLock()
	rt, ok := r.byKind[kind]
	r.mu.RUnlock()
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownRecordType, kind)
	}

	fields, err := rt.decode(raw)
	if err != nil {
		return Record{}, fmt.Errorf("%w: record %q: %v", ErrInvalidEnvelope, kind, err)
	}
	return Record{kind: kind, fields: fields}, nil
}

type envelope struct {
	Operation  Operation       `json:"operation"`
	Kind       string          `json:"kind,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`
	Name       string          `json:"name,omitempty"`
	Message    string          `json:"message,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Encode serialises an event for transport between processes. The bus
// sequence number is local to a process and is not carried.
func (r *Registry) Encode(e Event) ([]byte, error) {
	env := envelope{
		Operation:  e.Operation,
		Name:       e.Name,
		Message:    e.Message,
		OccurredAt: e.OccurredAt,
	}

	if e.HasRecord() {
		if !r.Has(e.Record.Kind()) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRecordType, e.Record.Kind())
		}
		raw, err := json.Marshal(e.Record)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record: %w", err)
		}
		env.Kind = e.Record.Kind()
		env.Record = raw
	}

	return json.Marshal(env)
}

// Decode is the inverse of Encode.
func (r *Registry) Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if !env.Operation.Valid() {
		return Event{}, fmt.Errorf("%w: operation %q", ErrInvalidEnvelope, env.Operation)
	}

	e := Event{
		Operation:  env.Operation,
		Name:       env.Name,
		Message:    env.Message,
		OccurredAt: env.OccurredAt,
	}

	if env.Kind == "" {
		if env.Operation != OperationCustom {
			return Event{}, fmt.Errorf("%w: %s event without record", ErrInvalidEnvelope, env.Operation)
		}
		return e, nil
	}

	rec, err := r.DecodeRecord(env.Kind, env.Record)
	if err != nil {
		return Event{}, err
	}
	e.Record = rec
	return e, nil
}
