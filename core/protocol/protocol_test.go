package protocol_test

import (
	"testing"

	"github.com/sessionworks/broker/core/protocol"
)

func TestNew(t *testing.T) {
	f := protocol.New("sess-1", protocol.KindContent)

	if f.ID == "" {
		t.Error("frame ID should not be empty")
	}
	if f.SessionID != "sess-1" {
		t.Errorf("got session ID %q, want %q", f.SessionID, "sess-1")
	}
	if f.Seq != 0 {
		t.Errorf("unsequenced frame has seq %d, want 0", f.Seq)
	}
	if f.Timestamp.IsZero() {
		t.Error("frame timestamp should be set")
	}
}

func TestNew_UniqueIDs(t *testing.T) {
	f1 := protocol.New("s", protocol.KindContent)
	f2 := protocol.New("s", protocol.KindContent)

	if f1.ID == f2.ID {
		t.Errorf("two frames share ID %q", f1.ID)
	}
}

func TestCorrelationID(t *testing.T) {
	tests := []struct {
		name  string
		frame protocol.Frame
		want  string
	}{
		{
			name: "permission request",
			frame: protocol.Frame{
				Kind:       protocol.KindPermissionRequest,
				Permission: &protocol.PermissionRequest{CorrelationID: "corr-1", Tool: "bash"},
			},
			want: "corr-1",
		},
		{
			name: "permission response",
			frame: protocol.Frame{
				Kind:     protocol.KindPermissionResponse,
				Approval: &protocol.PermissionResponse{CorrelationID: "corr-2", Approve: true},
			},
			want: "corr-2",
		},
		{
			name: "question",
			frame: protocol.Frame{
				Kind:     protocol.KindQuestion,
				Question: &protocol.Question{CorrelationID: "corr-3", Prompt: "which branch?"},
			},
			want: "corr-3",
		},
		{
			name: "question answer",
			frame: protocol.Frame{
				Kind:   protocol.KindQuestionAnswer,
				Answer: &protocol.QuestionAnswer{CorrelationID: "corr-4", Answer: "main"},
			},
			want: "corr-4",
		},
		{
			name:  "content has none",
			frame: protocol.NewContent("s", "user", "hi", "t1"),
			want:  "",
		},
		{
			name:  "permission request with nil payload",
			frame: protocol.Frame{Kind: protocol.KindPermissionRequest},
			want:  "",
		},
		{
			name:  "permission response with nil payload",
			frame: protocol.Frame{Kind: protocol.KindPermissionResponse},
			want:  "",
		},
		{
			name:  "question with nil payload",
			frame: protocol.Frame{Kind: protocol.KindQuestion},
			want:  "",
		},
		{
			name:  "question answer with nil payload",
			frame: protocol.Frame{Kind: protocol.KindQuestionAnswer},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.frame.CorrelationID(); got != tt.want {
				t.Errorf("CorrelationID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInternal(t *testing.T) {
	internal := []protocol.Kind{
		protocol.KindRestoreRequest,
		protocol.KindRestoreResult,
		protocol.KindCheckpointRequest,
		protocol.KindCheckpointResult,
	}
	for _, kind := range internal {
		f := protocol.Frame{Kind: kind}
		if !f.Internal() {
			t.Errorf("%s should be internal", kind)
		}
	}

	f := protocol.NewContent("s", "assistant", "hello", "t1")
	if f.Internal() {
		t.Error("content frames are not internal")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	f := protocol.NewContent("sess-1", "assistant", "hello world", "turn-1")
	f.Seq = 42

	data, err := protocol.EncodeJSON(f)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}

	got, err := protocol.DecodeJSON(data)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}

	if got.ID != f.ID || got.Seq != 42 || got.Kind != protocol.KindContent {
		t.Errorf("round trip mangled envelope: got %+v", got)
	}
	if got.Content == nil || got.Content.Text != "hello world" {
		t.Errorf("round trip mangled payload: got %+v", got.Content)
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	f := protocol.New("sess-1", protocol.KindPermissionRequest)
	f.Seq = 7
	f.Permission = &protocol.PermissionRequest{
		CorrelationID: "corr-9",
		Tool:          "write_file",
		Input:         `{"path":"main.go"}`,
		Turn:          "turn-2",
	}

	data, err := protocol.EncodeBinary(f)
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}

	got, err := protocol.DecodeBinary(data)
	if err != nil {
		t.Fatalf("DecodeBinary: %v", err)
	}

	if got.Seq != 7 || got.Kind != protocol.KindPermissionRequest {
		t.Errorf("round trip mangled envelope: got %+v", got)
	}
	if got.Permission == nil || got.Permission.CorrelationID != "corr-9" {
		t.Errorf("round trip mangled payload: got %+v", got.Permission)
	}
}

func TestBinaryDeterministic(t *testing.T) {
	f := protocol.NewError("s", protocol.CodeQueueOverflow, "history truncated", false)

	first, err := protocol.EncodeBinary(f)
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}
	second, err := protocol.EncodeBinary(f)
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}

	if string(first) != string(second) {
		t.Error("same frame produced different CBOR bytes")
	}
}
