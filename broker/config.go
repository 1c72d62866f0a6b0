package broker

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sessionworks/broker/auth"
	"github.com/sessionworks/broker/container"
	"github.com/sessionworks/broker/observability"
	"github.com/sessionworks/broker/queue"
	"github.com/sessionworks/broker/server"
	"github.com/sessionworks/broker/session"
	"github.com/sessionworks/broker/snapshot"
)

const (
	defaultObserver     = observability.ObserverSlog
	defaultDialInWindow = 30 * time.Second
	defaultEventBuffer  = 256
)

// Config holds initialization parameters for all broker subsystems. Each
// section delegates to that subsystem's config-driven constructor.
type Config struct {
	Auth      auth.Config      `json:"auth"`
	Session   session.Config   `json:"session"`
	Queue     queue.Config     `json:"queue"`
	Snapshot  snapshot.Config  `json:"snapshot"`
	Container container.Config `json:"container"`
	Server    server.Config    `json:"server"`

	// Observer selects a registered observer by name.
	Observer string `json:"observer,omitempty"`
	// EventBuffer sizes the telemetry dispatch channel.
	EventBuffer int `json:"event_buffer,omitempty"`
	// DialInWindow bounds how long an acquisition waits for a container
	// to dial in.
	DialInWindow time.Duration `json:"dial_in_window,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults for all subsystems.
func DefaultConfig() Config {
	return Config{
		Auth:         auth.DefaultConfig(),
		Session:      session.DefaultConfig(),
		Queue:        queue.DefaultConfig(),
		Snapshot:     snapshot.DefaultConfig(),
		Container:    container.DefaultConfig(),
		Server:       server.DefaultConfig(),
		Observer:     defaultObserver,
		EventBuffer:  defaultEventBuffer,
		DialInWindow: defaultDialInWindow,
	}
}

// Merge applies non-zero values from source into c, delegating to each
// subsystem's Merge method.
func (c *Config) Merge(source *Config) {
	c.Auth.Merge(&source.Auth)
	c.Session.Merge(&source.Session)
	c.Queue.Merge(&source.Queue)
	c.Snapshot.Merge(&source.Snapshot)
	c.Container.Merge(&source.Container)
	c.Server.Merge(&source.Server)

	if source.Observer != "" {
		c.Observer = source.Observer
	}
	if source.EventBuffer > 0 {
		c.EventBuffer = source.EventBuffer
	}
	if source.DialInWindow > 0 {
		c.DialInWindow = source.DialInWindow
	}
}

// LoadConfig reads a JSON config file, merges it with defaults, and returns
// the resulting Config.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Merge(&loaded)
	return &cfg, nil
}
