// Package protocol defines the wire frames exchanged between clients, the
// broker, and container agents. A Frame is a discriminated union: Kind selects
// which payload pointer is set. Frames cross the client link as JSON and the
// container link as CBOR; both encodings share the same Frame type.
//
// Sequence numbers are assigned by the session coordinator when a frame is
// admitted to a session's stream, never by the sender. A frame is immutable
// once sequenced.
package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the payload carried by a Frame.
type Kind string

const (
	// Client-facing kinds.
	KindContent            Kind = "content"
	KindSessionInit        Kind = "session_init"
	KindPermissionRequest  Kind = "permission_request"
	KindPermissionResponse Kind = "permission_response"
	KindQuestion           Kind = "question"
	KindQuestionAnswer     Kind = "question_answer"
	KindDone               Kind = "done"
	KindCancel             Kind = "cancel"
	KindMemoryStats        Kind = "memory_stats"
	KindError              Kind = "error"
	KindSync               Kind = "sync"

	// Container-internal kinds, exchanged with the sync agent inside the
	// container. Never forwarded to a client.
	KindRestoreRequest    Kind = "restore_request"
	KindRestoreResult     Kind = "restore_result"
	KindCheckpointRequest Kind = "checkpoint_request"
	KindCheckpointResult  Kind = "checkpoint_result"
)

// Target names the peer a queued frame is bound for.
type Target string

const (
	TargetClient    Target = "client"
	TargetContainer Target = "container"
)

// Frame is one message in a session's stream. Exactly one payload field is
// non-nil, matching Kind. Seq is zero until the coordinator admits the frame.
type Frame struct {
	ID        string    `json:"id" cbor:"1,keyasint"`
	SessionID string    `json:"session_id,omitempty" cbor:"2,keyasint,omitempty"`
	Seq       uint64    `json:"seq,omitempty" cbor:"3,keyasint,omitempty"`
	Kind      Kind      `json:"kind" cbor:"4,keyasint"`
	Timestamp time.Time `json:"timestamp" cbor:"5,keyasint"`

	Content     *Content            `json:"content,omitempty" cbor:"6,keyasint,omitempty"`
	Init        *SessionInit        `json:"init,omitempty" cbor:"7,keyasint,omitempty"`
	Permission  *PermissionRequest  `json:"permission,omitempty" cbor:"8,keyasint,omitempty"`
	Approval    *PermissionResponse `json:"approval,omitempty" cbor:"9,keyasint,omitempty"`
	Question    *Question           `json:"question,omitempty" cbor:"10,keyasint,omitempty"`
	Answer      *QuestionAnswer     `json:"answer,omitempty" cbor:"11,keyasint,omitempty"`
	Done        *Done               `json:"done,omitempty" cbor:"12,keyasint,omitempty"`
	Cancel      *Cancel             `json:"cancel,omitempty" cbor:"13,keyasint,omitempty"`
	Stats       *MemoryStats        `json:"stats,omitempty" cbor:"14,keyasint,omitempty"`
	Error       *ErrorInfo          `json:"error,omitempty" cbor:"15,keyasint,omitempty"`
	Sync        *SyncRequest        `json:"sync,omitempty" cbor:"16,keyasint,omitempty"`
	SyncOutcome *SyncResult         `json:"sync_outcome,omitempty" cbor:"17,keyasint,omitempty"`
}

// Content is a text delta from the user or the agent, scoped to one turn.
type Content struct {
	Role string `json:"role" cbor:"1,keyasint"`
	Text string `json:"text" cbor:"2,keyasint"`
	Turn string `json:"turn,omitempty" cbor:"3,keyasint,omitempty"`
}

// SessionInit carries the resolved identifiers sent to a client when its
// session becomes active.
type SessionInit struct {
	SessionID string `json:"session_id" cbor:"1,keyasint"`
	AgentID   string `json:"agent_id,omitempty" cbor:"2,keyasint,omitempty"`
	Resumed   bool   `json:"resumed,omitempty" cbor:"3,keyasint,omitempty"`
}

// PermissionRequest is the agent asking leave to run a tool. The correlation
// ID pairs it with exactly one PermissionResponse.
type PermissionRequest struct {
	CorrelationID string `json:"correlation_id" cbor:"1,keyasint"`
	Tool          string `json:"tool" cbor:"2,keyasint"`
	Input         string `json:"input,omitempty" cbor:"3,keyasint,omitempty"`
	Turn          string `json:"turn,omitempty" cbor:"4,keyasint,omitempty"`
}

// PermissionResponse resolves a PermissionRequest.
type PermissionResponse struct {
	CorrelationID string `json:"correlation_id" cbor:"1,keyasint"`
	Approve       bool   `json:"approve" cbor:"2,keyasint"`
	Message       string `json:"message,omitempty" cbor:"3,keyasint,omitempty"`
}

// Question is the agent asking the user to clarify something mid-turn.
type Question struct {
	CorrelationID string   `json:"correlation_id" cbor:"1,keyasint"`
	Prompt        string   `json:"prompt" cbor:"2,keyasint"`
	Options       []string `json:"options,omitempty" cbor:"3,keyasint,omitempty"`
	Turn          string   `json:"turn,omitempty" cbor:"4,keyasint,omitempty"`
}

// QuestionAnswer resolves a Question.
type QuestionAnswer struct {
	CorrelationID string `json:"correlation_id" cbor:"1,keyasint"`
	Answer        string `json:"answer" cbor:"2,keyasint"`
}

// Done marks the end of a turn. Receipt triggers a checkpoint.
type Done struct {
	Turn   string `json:"turn,omitempty" cbor:"1,keyasint,omitempty"`
	Reason string `json:"reason,omitempty" cbor:"2,keyasint,omitempty"`
}

// Cancel aborts the in-flight turn without tearing down the session.
type Cancel struct {
	Turn string `json:"turn,omitempty" cbor:"1,keyasint,omitempty"`
}

// MemoryStats is periodic informational telemetry pushed to connected clients.
type MemoryStats struct {
	QueuedForClient    int   `json:"queued_for_client" cbor:"1,keyasint"`
	QueuedForContainer int   `json:"queued_for_container" cbor:"2,keyasint"`
	SnapshotAgeSeconds int64 `json:"snapshot_age_seconds,omitempty" cbor:"3,keyasint,omitempty"`
}

// ErrorInfo is a typed error surfaced to a peer. Code is stable and
// machine-readable; Message is for humans. Terminal errors end the session.
type ErrorInfo struct {
	Code     Code   `json:"code" cbor:"1,keyasint"`
	Message  string `json:"message,omitempty" cbor:"2,keyasint,omitempty"`
	Terminal bool   `json:"terminal,omitempty" cbor:"3,keyasint,omitempty"`
	// CorrelationID ties approval-timeout and stale-approval errors back to
	// the request they concern.
	CorrelationID string `json:"correlation_id,omitempty" cbor:"4,keyasint,omitempty"`
}

// SyncRequest is a reconnecting client asking for frames after its last-seen
// sequence number.
type SyncRequest struct {
	AfterSeq uint64 `json:"after_seq" cbor:"1,keyasint"`
}

// SyncResult reports the outcome of a restore or checkpoint performed by the
// container-side sync agent.
type SyncResult struct {
	Files int    `json:"files" cbor:"1,keyasint"`
	Bytes int64  `json:"bytes" cbor:"2,keyasint"`
	Err   string `json:"err,omitempty" cbor:"3,keyasint,omitempty"`
}

// New creates an unsequenced frame of the given kind. The caller sets the
// matching payload field.
func New(sessionID string, kind Kind) Frame {
	return Frame{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

// NewContent builds a sequenceable content frame.
func NewContent(sessionID, role, text, turn string) Frame {
	f := New(sessionID, KindContent)
	f.Content = &Content{Role: role, Text: text, Turn: turn}
	return f
}

// NewError builds an error frame with a stable code.
func NewError(sessionID string, code Code, message string, terminal bool) Frame {
	f := New(sessionID, KindError)
	f.Error = &ErrorInfo{Code: code, Message: message, Terminal: terminal}
	return f
}

// CorrelationID returns the correlation ID carried by approval-flow frames,
// or "" for kinds that have none. A frame whose payload pointer is nil is
// wire-level misuse, not a reason to panic: it also reports "".
func (f *Frame) CorrelationID() string {
	switch f.Kind {
	case KindPermissionRequest:
		if f.Permission != nil {
			return f.Permission.CorrelationID
		}
	case KindPermissionResponse:
		if f.Approval != nil {
			return f.Approval.CorrelationID
		}
	case KindQuestion:
		if f.Question != nil {
			return f.Question.CorrelationID
		}
	case KindQuestionAnswer:
		if f.Answer != nil {
			return f.Answer.CorrelationID
		}
	}
	return ""
}

// Internal reports whether the frame is container-internal plumbing that must
// never be forwarded to a client.
func (f *Frame) Internal() bool {
	switch f.Kind {
	case KindRestoreRequest, KindRestoreResult, KindCheckpointRequest, KindCheckpointResult:
		return true
	}
	return false
}
