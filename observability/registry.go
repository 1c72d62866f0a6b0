package observability

import (
	"fmt"
	"log/slog"
	"sync"
)

// Built-in observer names accepted in broker configuration.
const (
	ObserverNoop = "noop"
	ObserverSlog = "slog"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Observer{
		ObserverNoop: NoOpObserver{},
		ObserverSlog: NewSlogObserver(slog.Default()),
	}
)

// GetObserver resolves an observer name from broker configuration. Unknown
// names fail loudly so a misconfigured deployment never runs with its
// telemetry silently discarded.
func GetObserver(name string) (Observer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	obs, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown observer %q", name)
	}
	return obs, nil
}

// RegisterObserver adds or replaces a named observer. Call it before broker
// construction so configuration can select the sink by name; brokerd uses
// this to point ObserverSlog at its configured handler instead of
// slog.Default.
func RegisterObserver(name string, observer Observer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = observer
}
