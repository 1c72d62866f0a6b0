package session

// State is a session's lifecycle position. Transitions are driven solely by
// the owning coordinator's event loop.
type State string

const (
	// StateInitializing is the instant between creation and the first
	// client attach.
	StateInitializing State = "initializing"
	// StateRestoring covers snapshot restore plus container acquisition.
	StateRestoring State = "restoring"
	// StateActive means both the client link and the container link are up.
	StateActive State = "active"
	// StateDisconnected means one side dropped; the other side's traffic
	// is queued, not rejected.
	StateDisconnected State = "disconnected"
	// StateReconnecting means the dropped side is re-establishing; queued
	// frames replay before live traffic resumes.
	StateReconnecting State = "reconnecting"
	// StateTerminating covers the final flush and teardown.
	StateTerminating State = "terminating"
	// StateClosed means in-memory state is discarded.
	StateClosed State = "closed"
)

// Info is a read-only snapshot of a session for listings and diagnostics.
type Info struct {
	ID                 string `json:"id"`
	State              State  `json:"state"`
	ClientConnected    bool   `json:"client_connected"`
	ContainerConnected bool   `json:"container_connected"`
	LastSeq            uint64 `json:"last_seq"`
	PendingApprovals   int    `json:"pending_approvals"`
	LastCheckpointUnix int64  `json:"last_checkpoint_unix,omitempty"`
}
