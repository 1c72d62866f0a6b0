package protocol

// Code is a stable machine-readable error code carried in ErrorInfo frames.
// Codes are part of the wire contract; renaming one breaks clients.
type Code string

const (
	CodeUnauthorized         Code = "unauthorized"
	CodeContainerUnavailable Code = "container_unavailable"
	CodeSyncFailure          Code = "sync_failure"
	CodeQueueOverflow        Code = "queue_overflow"
	CodeDuplicateCorrelation Code = "duplicate_correlation"
	CodeStaleApproval        Code = "stale_approval"
	CodeNotFound             Code = "not_found"
	CodeTimeout              Code = "timeout"
	CodeCancelled            Code = "cancelled"
	CodeSessionClosed        Code = "session_closed"
	CodeInternal             Code = "internal_error"
)
