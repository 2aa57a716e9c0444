package realtime

import (
	"bytes"
	"encoding/json"
)

// MessageType is the "type" field of a protocol message
type MessageType string

const (
	// Client -> server
	MessageTypeInitialConnection MessageType = "initial_connection"
	MessageTypeStartSubscription MessageType = "start_subscription"
	MessageTypeStopSubscription  MessageType = "stop_subscription"
	MessageTypeSubscribe         MessageType = "subscribe"

	// Server -> client
	MessageTypeConnectionAck MessageType = "connection_ack"
	MessageTypeData          MessageType = "data"
	MessageTypeError         MessageType = "error"
)

// Error messages sent for malformed input
const (
	errInvalidMessageFormat = "invalid message format"
	errUnknownMessageType   = "unknown message type"
	errMissingID            = "subscription id is required"
	errRateLimited          = "rate limit exceeded"
)

// ClientMessage is an inbound control message. ID is kept raw so that
// numeric and string ids are echoed back exactly as sent.
type ClientMessage struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StartPayload is the payload of start_subscription
type StartPayload struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// ServerMessage is an outbound message
type ServerMessage struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Payload interface{}     `json:"payload,omitempty"`
}

// DataPayload carries one GraphQL result. Both keys are always present.
type DataPayload struct {
	Data   interface{} `json:"data"`
	Errors []string    `json:"errors"`
}

// ErrorPayload carries a protocol error
type ErrorPayload struct {
	Message string `json:"message"`
}

// subscriptionKey normalises a raw id into a map key. Returns "" when the
// id is absent or null.
func subscriptionKey(id json.RawMessage) string {
	trimmed := bytes.TrimSpace(id)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	return string(trimmed)
}

// hasPayload reports whether a raw payload was supplied
func hasPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
