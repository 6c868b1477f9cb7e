// Package protocol defines the wire envelope shared by every transport of
// the operations service: requests, responses, stream chunks, and errors.
//
// Every envelope is a JSON object whose "type" field selects the concrete
// message shape. Decoding dispatches on that tag first and only then decodes
// the remaining fields; unknown fields are ignored.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Version is the protocol version stamped on every outbound envelope.
const Version = "1.0"

// MessageType discriminates envelope shapes on the wire.
type MessageType string

const (
	TypeRequest     MessageType = "request"
	TypeResponse    MessageType = "response"
	TypeStreamChunk MessageType = "stream_chunk"
	TypeError       MessageType = "error"
)

// Statuses carried by response envelopes.
const (
	StatusSuccess   = "success"
	StatusStreaming = "streaming"
	StatusError     = "error"
)

// StreamComplete is the sentinel data payload of the terminal chunk of
// every stream.
const StreamComplete = "STREAM_COMPLETE"

// Message is any envelope that can travel on a transport.
type Message interface {
	Kind() MessageType
	MessageID() string
}

// Header carries the fields common to all envelopes.
type Header struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Version   string      `json:"version"`
}

func newHeader(t MessageType) Header {
	return Header{
		Type:      t,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Version:   Version,
	}
}

// Kind returns the envelope discriminant.
func (h Header) Kind() MessageType { return h.Type }

// MessageID returns the sender-generated envelope id.
func (h Header) MessageID() string { return h.ID }

// Request asks the service to run one operation.
type Request struct {
	Header
	Operation  string `json:"operation"`
	Parameters Params `json:"parameters"`
	Stream     bool   `json:"stream"`
}

// NewRequest builds a request envelope with a fresh id.
func NewRequest(operation string, params Params, stream bool) *Request {
	return &Request{
		Header:     newHeader(TypeRequest),
		Operation:  operation,
		Parameters: params,
		Stream:     stream,
	}
}

// Response carries the result of a non-streaming operation, or the
// "streaming" placeholder on the unary endpoint.
type Response struct {
	Header
	RequestID      string `json:"request_id"`
	Status         string `json:"status"`
	Result         any    `json:"result"`
	StreamComplete bool   `json:"stream_complete"`
}

// NewResponse builds a success response correlated to requestID.
func NewResponse(requestID string, result any) *Response {
	return &Response{
		Header:         newHeader(TypeResponse),
		RequestID:      requestID,
		Status:         StatusSuccess,
		Result:         result,
		StreamComplete: true,
	}
}

// NewStreamingResponse builds the placeholder response the unary endpoint
// returns for streaming requests.
func NewStreamingResponse(requestID string, result any) *Response {
	return &Response{
		Header:         newHeader(TypeResponse),
		RequestID:      requestID,
		Status:         StatusStreaming,
		Result:         result,
		StreamComplete: false,
	}
}

// StreamChunk is one element of a streamed result. Sequence numbers are
// 1-based and strictly increasing per request id; the last chunk of every
// stream has IsFinal set and carries the StreamComplete sentinel.
type StreamChunk struct {
	Header
	RequestID string `json:"request_id"`
	Sequence  int64  `json:"sequence"`
	Data      any    `json:"data"`
	IsFinal   bool   `json:"is_final"`
}

// NewStreamChunk builds a non-terminal chunk.
func NewStreamChunk(requestID string, sequence int64, data any) *StreamChunk {
	return &StreamChunk{
		Header:    newHeader(TypeStreamChunk),
		RequestID: requestID,
		Sequence:  sequence,
		Data:      data,
	}
}

// NewFinalChunk builds the terminal sentinel chunk of a stream.
func NewFinalChunk(requestID string, sequence int64) *StreamChunk {
	return &StreamChunk{
		Header:    newHeader(TypeStreamChunk),
		RequestID: requestID,
		Sequence:  sequence,
		Data:      StreamComplete,
		IsFinal:   true,
	}
}

// ErrorMessage reports a failed request. RequestID may be empty when the
// request itself could not be parsed.
type ErrorMessage struct {
	Header
	RequestID    string `json:"request_id,omitempty"`
	ErrorCode    Code   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Details      any    `json:"details,omitempty"`
}

// NewError builds an error envelope correlated to requestID.
func NewError(requestID string, code Code, message string) *ErrorMessage {
	return &ErrorMessage{
		Header:       newHeader(TypeError),
		RequestID:    requestID,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

// NewErrorFrom converts an engine error into an error envelope, mapping
// typed operation errors to their codes and everything else to IO_ERROR.
func NewErrorFrom(requestID string, err error) *ErrorMessage {
	env := NewError(requestID, CodeOf(err), err.Error())
	if oe, ok := asOpError(err); ok {
		env.Details = oe.Details
	}
	return env
}

// Decode parses one envelope, dispatching on the "type" tag.
func Decode(data []byte) (Message, error) {
	var probe struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch probe.Type {
	case TypeRequest:
		var m Request
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		return &m, nil
	case TypeResponse:
		var m Response
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &m, nil
	case TypeStreamChunk:
		var m StreamChunk
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		return &m, nil
	case TypeError:
		var m ErrorMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode error envelope: %w", err)
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("unknown envelope type %q", probe.Type)
	}
}

// DecodeRequest parses a request envelope from raw bytes.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return &req, nil
}

// Params is the parameter mapping of a request. Getter methods coerce
// loosely typed JSON values the way callers actually send them.
type Params map[string]any

// String returns a required string parameter.
func (p Params) String(name string) (string, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return "", E(MissingParameter, "missing required parameter: %s", name)
	}
	return stringify(name, v)
}

// StringDefault returns a string parameter or def when absent.
func (p Params) StringDefault(name, def string) (string, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	return stringify(name, v)
}

// Bool returns a boolean parameter or def when absent. String values are
// coerced ("true"/"false"); anything else fails with INVALID_PARAMETER.
func (p Params) Bool(name string, def bool) (bool, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	switch val := v.(type) {
	case bool:
		return val, nil
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return false, E(InvalidParameter, "parameter %s is not a boolean: %q", name, val)
		}
		return b, nil
	default:
		return false, E(InvalidParameter, "parameter %s is not a boolean", name)
	}
}

// Int returns an integer parameter or def when absent. JSON numbers and
// numeric strings are accepted.
func (p Params) Int(name string, def int) (int, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	switch val := v.(type) {
	case float64:
		return int(val), nil
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return 0, E(InvalidParameter, "parameter %s is not an integer: %q", name, val.String())
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, E(InvalidParameter, "parameter %s is not an integer: %q", name, val)
		}
		return n, nil
	default:
		return 0, E(InvalidParameter, "parameter %s is not an integer", name)
	}
}

func stringify(name string, v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case json.Number:
		return val.String(), nil
	default:
		return "", E(InvalidParameter, "parameter %s is not a string", name)
	}
}
