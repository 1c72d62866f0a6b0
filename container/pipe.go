package container

import (
	"context"
	"sync"
	"sync/atomic"
)

const pipeBuffer = 64

// Pipe is an in-memory duplex link between a broker-side Handle and a
// container-side Handle. Frames sent on one end arrive on the other. Used by
// tests and by single-process deployments where the agent runs in-process.
type Pipe struct {
	broker    *pipeEnd
	container *pipeEnd
}

// NewPipe creates a connected pair of handles.
func NewPipe() *Pipe {
	brokerIn := make(chan []byte, pipeBuffer)
	containerIn := make(chan []byte, pipeBuffer)

	p := &Pipe{}
	shared := &pipeState{}
	p.broker = &pipeEnd{in: brokerIn, out: containerIn, state: shared}
	p.container = &pipeEnd{in: containerIn, out: brokerIn, state: shared}
	return p
}

// Broker returns the broker-side handle.
func (p *Pipe) Broker() Handle { return p.broker }

// Container returns the container-side handle.
func (p *Pipe) Container() Handle { return p.container }

type pipeState struct {
	closed    atomic.Bool
	closeOnce sync.Once
}

type pipeEnd struct {
	in    chan []byte
	out   chan []byte
	state *pipeState
}

func (e *pipeEnd) Send(ctx context.Context, data []byte) error {
	if e.state.closed.Load() {
		return ErrClosed
	}
	select {
	case e.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *pipeEnd) Receive() <-chan []byte {
	return e.in
}

func (e *pipeEnd) IsAlive() bool {
	return !e.state.closed.Load()
}

// Close tears down both ends; either side may call it.
func (e *pipeEnd) Close() error {
	e.state.closeOnce.Do(func() {
		e.state.closed.Store(true)
		close(e.in)
		close(e.out)
	})
	return nil
}
