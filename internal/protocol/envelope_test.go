package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeDispatchesOnTypeTag(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want MessageType
	}{
		{"request", `{"type":"request","id":"r1","operation":"read_file","parameters":{"path":"/tmp/x"},"stream":false}`, TypeRequest},
		{"response", `{"type":"response","id":"m1","request_id":"r1","status":"success","result":{},"stream_complete":true}`, TypeResponse},
		{"chunk", `{"type":"stream_chunk","id":"m2","request_id":"r1","sequence":1,"data":"abc","is_final":false}`, TypeStreamChunk},
		{"error", `{"type":"error","id":"m3","request_id":"r1","error_code":"PATH_NOT_FOUND","error_message":"nope"}`, TypeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := Decode([]byte(tc.in))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if msg.Kind() != tc.want {
				t.Fatalf("kind = %q, want %q", msg.Kind(), tc.want)
			}
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"bogus"}`)); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"request","id":"r1","operation":"grep","parameters":{"pattern":"x"},"stream":true,"extra_field":42}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	req, ok := msg.(*Request)
	if !ok {
		t.Fatalf("got %T, want *Request", msg)
	}
	if !req.Stream || req.Operation != "grep" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestDecodeRequestMintsMissingID(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"type":"request","operation":"list_directory"}`))
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if req.ID == "" {
		t.Fatal("expected generated request id")
	}
}

func TestRequestRoundTrip(t *testing.T) {
	req := NewRequest("execute_command", Params{"command": "echo hi"}, true)
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	back := got.(*Request)
	if back.ID != req.ID || back.Operation != req.Operation || !back.Stream {
		t.Fatalf("round trip mismatch: %+v", back)
	}
	if back.Version != Version {
		t.Fatalf("version = %q, want %q", back.Version, Version)
	}
}

func TestFinalChunkCarriesSentinel(t *testing.T) {
	chunk := NewFinalChunk("r1", 4)
	if !chunk.IsFinal {
		t.Fatal("final chunk must set is_final")
	}
	if chunk.Data != StreamComplete {
		t.Fatalf("data = %v, want %q", chunk.Data, StreamComplete)
	}
	if chunk.Sequence != 4 {
		t.Fatalf("sequence = %d, want 4", chunk.Sequence)
	}
}

func TestParamsString(t *testing.T) {
	p := Params{"path": "/tmp", "n": float64(7), "flag": true}

	if got, err := p.String("path"); err != nil || got != "/tmp" {
		t.Fatalf("String(path) = %q, %v", got, err)
	}
	if got, err := p.String("n"); err != nil || got != "7" {
		t.Fatalf("String(n) = %q, %v", got, err)
	}
	if _, err := p.String("missing"); CodeOf(err) != MissingParameter {
		t.Fatalf("expected MISSING_PARAMETER, got %v", err)
	}
	if got, err := p.StringDefault("missing", "."); err != nil || got != "." {
		t.Fatalf("StringDefault = %q, %v", got, err)
	}
}

func TestParamsBoolAndInt(t *testing.T) {
	p := Params{
		"recursive": true,
		"cs":        "false",
		"timeout":   float64(30),
		"depth":     "5",
		"bad":       []any{1},
	}

	if got, err := p.Bool("recursive", false); err != nil || !got {
		t.Fatalf("Bool(recursive) = %v, %v", got, err)
	}
	if got, err := p.Bool("cs", true); err != nil || got {
		t.Fatalf("Bool(cs) = %v, %v", got, err)
	}
	if got, err := p.Bool("absent", true); err != nil || !got {
		t.Fatalf("Bool(absent) = %v, %v", got, err)
	}
	if _, err := p.Bool("bad", false); CodeOf(err) != InvalidParameter {
		t.Fatalf("expected INVALID_PARAMETER, got %v", err)
	}
	if got, err := p.Int("timeout", 300); err != nil || got != 30 {
		t.Fatalf("Int(timeout) = %d, %v", got, err)
	}
	if got, err := p.Int("depth", 0); err != nil || got != 5 {
		t.Fatalf("Int(depth) = %d, %v", got, err)
	}
	if got, err := p.Int("absent", 300); err != nil || got != 300 {
		t.Fatalf("Int(absent) = %d, %v", got, err)
	}
}

func TestNewErrorFromMapsTypedErrors(t *testing.T) {
	env := NewErrorFrom("r9", E(ForbiddenCommand, "dangerous command not allowed: rm"))
	if env.ErrorCode != ForbiddenCommand {
		t.Fatalf("code = %q", env.ErrorCode)
	}
	if env.RequestID != "r9" {
		t.Fatalf("request id = %q", env.RequestID)
	}
	if !strings.Contains(env.ErrorMessage, "rm") {
		t.Fatalf("message = %q", env.ErrorMessage)
	}

	plain := NewErrorFrom("r9", errDummy{})
	if plain.ErrorCode != IOError {
		t.Fatalf("untyped error code = %q, want IO_ERROR", plain.ErrorCode)
	}
}

type errDummy struct{}

func (errDummy) Error() string { return "boom" }

func TestTimestampSerializesISO8601(t *testing.T) {
	data, err := json.Marshal(NewResponse("r1", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ts, _ := raw["timestamp"].(string)
	if !strings.Contains(ts, "T") {
		t.Fatalf("timestamp %q is not ISO-8601", ts)
	}
}
