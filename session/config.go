package session

import "time"

const (
	defaultClientGrace     = 60 * time.Second
	defaultContainerGrace  = 60 * time.Second
	defaultApprovalTimeout = 5 * time.Minute
	defaultIdleTimeout     = 30 * time.Minute
	defaultStatsInterval   = 30 * time.Second
	defaultWorkDir         = "sessions"
)

// Config holds per-session timing and storage settings. All durations are
// independent; expiry of any one drives its own state transition, never a
// silent hang.
type Config struct {
	// ClientGrace is how long a session survives without a client before
	// terminating.
	ClientGrace time.Duration `json:"client_grace,omitempty"`
	// ContainerGrace bounds container re-acquisition after a mid-session
	// crash.
	ContainerGrace time.Duration `json:"container_grace,omitempty"`
	// ApprovalTimeout bounds how long a permission request or question may
	// stay unanswered.
	ApprovalTimeout time.Duration `json:"approval_timeout,omitempty"`
	// IdleTimeout terminates sessions with no traffic in either direction.
	IdleTimeout time.Duration `json:"idle_timeout,omitempty"`
	// StatsInterval paces memory_stats frames while a client is connected.
	StatsInterval time.Duration `json:"stats_interval,omitempty"`
	// WorkDir is the root under which each session's working tree lives.
	WorkDir string `json:"work_dir,omitempty"`
}

// DefaultConfig returns the standard session timings.
func DefaultConfig() Config {
	return Config{
		ClientGrace:     defaultClientGrace,
		ContainerGrace:  defaultContainerGrace,
		ApprovalTimeout: defaultApprovalTimeout,
		IdleTimeout:     defaultIdleTimeout,
		StatsInterval:   defaultStatsInterval,
		WorkDir:         defaultWorkDir,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.ClientGrace > 0 {
		c.ClientGrace = source.ClientGrace
	}
	if source.ContainerGrace > 0 {
		c.ContainerGrace = source.ContainerGrace
	}
	if source.ApprovalTimeout > 0 {
		c.ApprovalTimeout = source.ApprovalTimeout
	}
	if source.IdleTimeout > 0 {
		c.IdleTimeout = source.IdleTimeout
	}
	if source.StatsInterval > 0 {
		c.StatsInterval = source.StatsInterval
	}
	if source.WorkDir != "" {
		c.WorkDir = source.WorkDir
	}
}
