package events

import (
	"encoding/json"
	"errors"
	"time"
)

// Operation identifies the kind of change an Event describes.
type Operation string

const (
	OperationCreated Operation = "created"
	OperationUpdated Operation = "updated"
	OperationDeleted Operation = "deleted"
	OperationCustom  Operation = "custom_event"
)

var (
	ErrUnknownRecordType = errors.New("unknown record type")
	ErrInvalidEnvelope   = errors.New("invalid event envelope")
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreated, OperationUpdated, OperationDeleted, OperationCustom:
		return true
	}
	return false
}

// Record is a plain-data snapshot of a persisted row. It holds no handle
// back to storage and is never mutated after construction.
type Record struct {
	kind   string
	fields map[string]interface{}
}

// NewRecord deep-copies fields into a new Record of the given kind. Nested
// maps and slices are copied too, so no subscriber shares them.
func NewRecord(kind string, fields map[string]interface{}) Record {
	return Record{kind: kind, fields: copyFields(fields)}
}

// Kind returns the registered record kind, e.g. "test_model".
func (r Record) Kind() string {
	return r.kind
}

// Get returns a copy of a single attribute.
func (r Record) Get(name string) (interface{}, bool) {
	v, ok := r.fields[name]
	return copyValue(v), ok
}

// ID returns the "id" attribute, or nil if the record has none.
func (r Record) ID() interface{} {
	return r.fields["id"]
}

// Fields returns a deep copy of the attribute map.
func (r Record) Fields() map[string]interface{} {
	return copyFields(r.fields)
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	cp := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		cp[k] = copyValue(v)
	}
	return cp
}

// copyValue copies the JSON-shaped containers a snapshot may hold; other
// values are treated as immutable.
func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyFields(t)
	case []interface{}:
		cp := make([]interface{}, len(t))
		for i, e := range t {
			cp[i] = copyValue(e)
		}
		return cp
	case []byte:
		if t == nil {
			return t
		}
		return append(make([]byte, 0, len(t)), t...)
	case []string:
		if t == nil {
			return t
		}
		return append(make([]string, 0, len(t)), t...)
	}
	return v
}

// IsZero reports whether the record carries no kind.
func (r Record) IsZero() bool {
	return r.kind == ""
}

// MarshalJSON encodes the attribute map.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.fields == nil {
		return []byte("null"), nil
	}
	return json.Marshal(r.fields)
}

// Event describes one change flowing through the system. Events are values:
// consumers receive copies and derive new data from them.
type Event struct {
	// Seq is stamped by the bus at publish time; zero until published.
	Seq        uint64
	Operation  Operation
	Record     Record
	Name       string
	Message    string
	OccurredAt time.Time
}

// NewRecordEvent builds a created/updated/deleted event for a snapshot.
func NewRecordEvent(op Operation, rec Record) Event {
	return Event{
		Operation:  op,
		Record:     rec,
		OccurredAt: time.Now().UTC(),
	}
}

// NewCustomEvent builds a custom_event carrying a free-form message.
func NewCustomEvent(name, message string) Event {
	return Event{
		Operation:  OperationCustom,
		Name:       name,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
}

// HasRecord reports whether the event carries a record payload.
func (e Event) HasRecord() bool {
	return !e.Record.IsZero()
}
