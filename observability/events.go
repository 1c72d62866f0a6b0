package observability

// Event types emitted by broker subsystems. Data keys are noted per type.
const (
	// Session lifecycle. Data: session_id, from, to, reason.
	EventSessionTransition EventType = "session.transition"
	// Data: session_id, seq, kind, target.
	EventFrameAdmitted EventType = "session.frame_admitted"
	// Data: session_id, target, replayed.
	EventReplay EventType = "session.replay"

	// Object-store sync. Data: session_id, direction, files, bytes,
	// duration_ms, error.
	EventSyncRestore    EventType = "sync.restore"
	EventSyncCheckpoint EventType = "sync.checkpoint"
	EventSyncFlush      EventType = "sync.flush"

	// Container provisioning. Data: session_id, attempts, duration_ms, error.
	EventContainerAcquire EventType = "container.acquire"
	EventContainerRelease EventType = "container.release"

	// Queue. Data: session_id, target, evicted, depth.
	EventQueueOverflow EventType = "queue.overflow"

	// Approvals. Data: session_id, correlation_id, kind, outcome.
	EventApprovalCreated  EventType = "approval.created"
	EventApprovalResolved EventType = "approval.resolved"

	// Auth. Data: principal, method, error.
	EventAuthRejected EventType = "auth.rejected"
)
