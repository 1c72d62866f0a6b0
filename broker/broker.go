// Package broker composes the session registry, queues, snapshot engine,
// container provider, and HTTP edge into one runnable service.
//
// The broker initializes from configuration via New, creating all subsystems
// internally. Functional options allow test overrides of any subsystem.
//
//	b, err := broker.New(&cfg)
//	err = b.Run(ctx)
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sessionworks/broker/auth"
	"github.com/sessionworks/broker/clock"
	"github.com/sessionworks/broker/container"
	"github.com/sessionworks/broker/observability"
	"github.com/sessionworks/broker/queue"
	"github.com/sessionworks/broker/server"
	"github.com/sessionworks/broker/session"
	"github.com/sessionworks/broker/snapshot"
)

// Option configures a Broker after config-driven initialization.
// Applied by New after cold start; overrides replace config-created defaults.
type Option func(*options)

type options struct {
	clk         clock.Clock
	logger      *slog.Logger
	observer    observability.Observer
	queue       queue.Queue
	blobstore   snapshot.Blobstore
	provisioner container.Provisioner
}

// WithClock overrides the real clock.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clk = clk }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver overrides the config-selected observer.
func WithObserver(observer observability.Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithQueue overrides the config-created message queue.
func WithQueue(q queue.Queue) Option {
	return func(o *options) { o.queue = q }
}

// WithBlobstore overrides the config-created snapshot blobstore.
func WithBlobstore(store snapshot.Blobstore) Option {
	return func(o *options) { o.blobstore = store }
}

// WithProvisioner overrides the default dial-in container provisioner.
func WithProvisioner(p container.Provisioner) Option {
	return func(o *options) { o.provisioner = p }
}

// Broker is the composed session brokering service.
type Broker struct {
	cfg      Config
	logger   *slog.Logger
	dispatch *observability.Dispatcher
	queue    queue.Queue
	engine   *snapshot.Engine
	provider *container.Provider
	dialIn   *container.DialInProvisioner
	sessions *session.Registry
	server   *server.Server
}

// New creates a Broker from configuration. Subsystems are initialized from
// their respective config sections; functional options applied after
// initialization can override any of them for testing.
func New(cfg *Config, opts ...Option) (*Broker, error) {
	merged := DefaultConfig()
	merged.Merge(cfg)

	if err := merged.Auth.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate auth config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.clk == nil {
		o.clk = clock.Real()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	if o.observer == nil {
		observer, err := observability.GetObserver(merged.Observer)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve observer %q: %w", merged.Observer, err)
		}
		o.observer = observer
	}
	dispatch := observability.NewDispatcher(o.observer, merged.EventBuffer)

	gate, err := auth.NewGate(merged.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth gate: %w", err)
	}

	q := o.queue
	if q == nil {
		q, err = queue.New(merged.Queue)
		if err != nil {
			return nil, fmt.Errorf("failed to create queue: %w", err)
		}
	}

	engineOpts := []snapshot.Option{snapshot.WithDispatcher(dispatch)}
	if o.blobstore != nil {
		engineOpts = append(engineOpts, snapshot.WithBlobstore(o.blobstore))
	}
	engine, err := snapshot.NewEngine(merged.Snapshot, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot engine: %w", err)
	}

	var dialIn *container.DialInProvisioner
	provisioner := o.provisioner
	if provisioner == nil {
		dialIn = container.NewDialInProvisioner(merged.DialInWindow)
		provisioner = dialIn
	}
	provider := container.NewProvider(provisioner, merged.Container,
		container.WithDispatcher(dispatch))

	sessions := session.NewRegistry(merged.Session, session.Deps{
		Queue:    q,
		Provider: provider,
		Engine:   engine,
		Clock:    o.clk,
		Dispatch: dispatch,
		Logger:   o.logger,
	})

	srv := server.New(merged.Server, gate, sessions, dialIn, o.logger, dispatch)

	return &Broker{
		cfg:      merged,
		logger:   o.logger,
		dispatch: dispatch,
		queue:    q,
		engine:   engine,
		provider: provider,
		dialIn:   dialIn,
		sessions: sessions,
		server:   srv,
	}, nil
}

// Sessions exposes the live session registry.
func (b *Broker) Sessions() *session.Registry { return b.sessions }

// Handler exposes the routed HTTP handler, mainly for tests and embedding.
func (b *Broker) Handler() http.Handler { return b.server.Handler() }

// Run serves traffic until ctx is cancelled, then drains: sessions terminate
// (each taking its final flush), the edge stops, telemetry flushes.
func (b *Broker) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- b.server.ListenAndServe() }()

	select {
	case err := <-errCh:
		b.shutdown()
		return err
	case <-ctx.Done():
	}

	b.logger.Info("shutting down")
	if err := b.server.Shutdown(context.Background()); err != nil {
		b.logger.Warn("server shutdown", slog.String("error", err.Error()))
	}
	b.shutdown()
	return nil
}

func (b *Broker) shutdown() {
	b.sessions.Shutdown("broker shutting down")
	if err := b.queue.Close(); err != nil {
		b.logger.Warn("queue close", slog.String("error", err.Error()))
	}
	b.dispatch.Close()
}
