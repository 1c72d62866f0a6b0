// Package session implements the per-session coordination actor. Each live
// session is owned by exactly one Coordinator: a goroutine consuming an
// inbound event channel, which serializes every state mutation without
// locks. Anything that can block (restore, container acquisition,
// checkpoints, the final flush retries) runs in helper goroutines that post
// their outcome back as events, so the loop keeps servicing traffic while
// slow work is in flight.
package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sessionworks/broker/approval"
	"github.com/sessionworks/broker/clock"
	"github.com/sessionworks/broker/container"
	"github.com/sessionworks/broker/core/protocol"
	"github.com/sessionworks/broker/observability"
	"github.com/sessionworks/broker/queue"
	"github.com/sessionworks/broker/snapshot"
)

const eventBuffer = 256

// ClientLink is the coordinator's view of a connected client transport.
// Deliver must not block indefinitely; a failed delivery is treated as a
// dropped link.
type ClientLink interface {
	Deliver(frame protocol.Frame) error
	Close()
}

// Deps are the collaborators a Coordinator wires together.
type Deps struct {
	Queue    queue.Queue
	Provider *container.Provider
	Engine   *snapshot.Engine
	Clock    clock.Clock
	Dispatch *observability.Dispatcher
	Logger   *slog.Logger
}

type eventKind int

const (
	evClientAttach eventKind = iota
	evClientDetach
	evClientFrame
	evContainerFrame
	evContainerDown
	evStartResult
	evReacquireResult
	evApprovalSettled
	evCheckpointDone
	evClientGraceExpired
	evContainerGraceExpired
	evIdleExpired
	evStatsTick
	evTerminate
)

type event struct {
	kind     eventKind
	link     ClientLink
	frame    protocol.Frame
	handle   container.Handle
	err      error
	res      approval.Resolution
	reason   string
	afterSeq uint64
	gen      int
	reply    chan error
}

// Coordinator owns one session's authoritative state. The event-loop fields
// are written only by run's goroutine; Info reads a copy under infoMu.
type Coordinator struct {
	id   string
	cfg  Config
	deps Deps

	events chan event
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// Event-loop state.
	state       State
	client      ClientLink
	handle      container.Handle
	containerUp bool
	seq         uint64
	readerGen   int
	approvals   *approval.Registry

	clientGraceTimer    clock.Timer
	containerGraceTimer clock.Timer
	idleTimer           clock.Timer
	statsStop           chan struct{}
	reacquireCancel     context.CancelFunc
	lastCheckpoint      time.Time

	onClosed func(id string)

	infoMu sync.Mutex
	info   Info
}

// NewCoordinator creates and starts the actor for a session ID. onClosed is
// invoked once, after the session reaches Closed, so the registry can forget
// it.
func NewCoordinator(id string, cfg Config, deps Deps, onClosed func(string)) *Coordinator {
	defaults := DefaultConfig()
	defaults.Merge(&cfg)

	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		id:       id,
		cfg:      defaults,
		deps:     deps,
		events:   make(chan event, eventBuffer),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateInitializing,
		onClosed: onClosed,
		info:     Info{ID: id, State: StateInitializing},
	}
	// The settle callback can fire from inside the event loop itself (a
	// client resolution or a cancel sweep), so it must never block on the
	// loop's own channel.
	c.approvals = approval.NewRegistry(deps.Clock, defaults.ApprovalTimeout, func(res approval.Resolution) {
		select {
		case c.events <- event{kind: evApprovalSettled, res: res}:
		case <-c.done:
		default:
			deps.Logger.Warn("approval settlement dropped",
				slog.String("session_id", id), slog.String("correlation_id", res.CorrelationID))
		}
	})

	go c.run()
	return c
}

// ID returns the session identifier.
func (c *Coordinator) ID() string { return c.id }

// Done closes when the session reaches Closed.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Info returns a point-in-time snapshot of the session.
func (c *Coordinator) Info() Info {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	return c.info
}

// AttachClient hands the coordinator a connected client link. afterSeq is the
// client's last-seen sequence number (zero for a fresh client); buffered
// frames after it replay, in order, before any live traffic. A new attach
// supersedes a lingering previous link.
func (c *Coordinator) AttachClient(link ClientLink, afterSeq uint64) error {
	reply := make(chan error, 1)
	if !c.post(event{kind: evClientAttach, link: link, afterSeq: afterSeq, reply: reply}) {
		return ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrSessionClosed
	}
}

// DetachClient reports that a client link dropped. Ignored unless the link is
// the current one.
func (c *Coordinator) DetachClient(link ClientLink) {
	c.post(event{kind: evClientDetach, link: link})
}

// SubmitClientFrame routes a frame received from the client.
func (c *Coordinator) SubmitClientFrame(frame protocol.Frame) error {
	if !c.post(event{kind: evClientFrame, frame: frame}) {
		return ErrSessionClosed
	}
	return nil
}

// Terminate requests an orderly shutdown: approvals cancelled, final flush,
// container released, state discarded.
func (c *Coordinator) Terminate(reason string) {
	c.post(event{kind: evTerminate, reason: reason})
}

func (c *Coordinator) post(ev event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Coordinator) run() {
	for ev := range c.events {
		c.handleEvent(ev)
		c.publishInfo()
		if c.state == StateClosed {
			break
		}
	}
	c.cancel()
	close(c.done)
	if c.onClosed != nil {
		c.onClosed(c.id)
	}
}

func (c *Coordinator) handleEvent(ev event) {
	switch ev.kind {
	case evClientAttach:
		ev.reply <- c.attachClient(ev.link, ev.afterSeq)
	case evClientDetach:
		c.detachClient(ev.link)
	case evClientFrame:
		c.clientFrame(ev.frame)
	case evContainerFrame:
		if ev.gen == c.readerGen {
			c.containerFrame(ev.frame)
		}
	case evContainerDown:
		if ev.gen == c.readerGen {
			c.containerDown()
		}
	case evStartResult:
		c.startResult(ev.handle, ev.err)
	case evReacquireResult:
		c.reacquireResult(ev.handle, ev.err)
	case evApprovalSettled:
		c.approvalSettled(ev.res)
	case evCheckpointDone:
		if ev.err == nil {
			c.lastCheckpoint = c.deps.Clock.Now()
		}
	case evClientGraceExpired:
		if c.client == nil {
			c.terminate("client reconnect window expired", nil)
		}
	case evContainerGraceExpired:
		if !c.containerUp {
			c.terminate("container reacquisition window expired", &protocol.ErrorInfo{
				Code:     protocol.CodeContainerUnavailable,
				Message:  "container did not come back",
				Terminal: true,
			})
		}
	case evIdleExpired:
		c.terminate("idle timeout", nil)
	case evStatsTick:
		c.sendStats()
	case evTerminate:
		c.terminate(ev.reason, nil)
	}
}

// --- lifecycle -------------------------------------------------------------

func (c *Coordinator) attachClient(link ClientLink, afterSeq uint64) error {
	if c.state == StateTerminating || c.state == StateClosed {
		return ErrSessionClosed
	}

	if c.client != nil {
		c.client.Close()
	}
	c.client = link
	c.stopClientGrace()
	c.startStats()
	c.touchIdle()

	switch c.state {
	case StateInitializing:
		c.setState(StateRestoring, "first client connect")
		go c.start()
	case StateRestoring:
		// Start already in flight; the client just rides along.
	default:
		c.setState(StateReconnecting, "client reconnected")
		c.replayToClient(afterSeq)
		if c.client == nil {
			// Replay severed a link that failed mid-delivery.
			return nil
		}
		c.deliverInit(true)
		if c.containerUp {
			c.setState(StateActive, "links restored")
		} else {
			c.setState(StateDisconnected, "container still down")
		}
	}
	return nil
}

func (c *Coordinator) detachClient(link ClientLink) {
	if link != c.client {
		return
	}
	c.client = nil
	c.stopStats()

	if c.state == StateActive || c.state == StateReconnecting {
		c.setState(StateDisconnected, "client link dropped")
	}
	c.startClientGrace()
}

// dropClient severs the current link after a failed delivery. Once a Deliver
// errors, the link cannot be trusted to stay behind the queue, so every frame
// from here on is buffered and reaches the client only through replay on the
// next attach. The transport's own detach for the same link becomes a no-op.
func (c *Coordinator) dropClient(reason string) {
	if c.client == nil {
		return
	}
	c.client.Close()
	c.client = nil
	c.stopStats()

	if c.state == StateActive || c.state == StateReconnecting {
		c.setState(StateDisconnected, reason)
	}
	c.startClientGrace()
}

// start performs restore-then-acquire off the event loop.
func (c *Coordinator) start() {
	if _, err := c.deps.Engine.Restore(c.ctx, c.id, c.workDir()); err != nil {
		// Non-fatal: the session starts from an empty tree and the
		// failure is already telemetered by the engine.
		c.deps.Logger.Warn("session restore failed",
			slog.String("session_id", c.id), slog.String("error", err.Error()))
	}
	if err := os.MkdirAll(c.workDir(), 0o755); err != nil {
		c.deps.Logger.Warn("creating session work dir failed",
			slog.String("session_id", c.id), slog.String("error", err.Error()))
	}

	handle, err := c.deps.Provider.Acquire(c.ctx, c.id)
	if !c.post(event{kind: evStartResult, handle: handle, err: err}) && handle != nil {
		handle.Close()
	}
}

func (c *Coordinator) startResult(handle container.Handle, err error) {
	if c.state != StateRestoring {
		// Terminated while acquisition was in flight.
		if handle != nil {
			handle.Close()
		}
		return
	}
	if err != nil {
		c.terminate("container acquisition failed", &protocol.ErrorInfo{
			Code:     protocol.CodeContainerUnavailable,
			Message:  "could not start a container for this session",
			Terminal: true,
		})
		return
	}

	c.adoptHandle(handle)
	c.sendToContainer(c.admit(protocol.New(c.id, protocol.KindRestoreRequest)))

	if c.client != nil {
		c.setState(StateActive, "restore complete")
		c.deliverInit(false)
	} else {
		c.setState(StateDisconnected, "client left during restore")
		c.startClientGrace()
	}
	c.replayToContainer()
	c.touchIdle()
}

func (c *Coordinator) adoptHandle(handle container.Handle) {
	c.handle = handle
	c.containerUp = true
	c.stopContainerGrace()

	c.readerGen++
	gen := c.readerGen
	go func() {
		for data := range handle.Receive() {
			frame, err := protocol.DecodeBinary(data)
			if err != nil {
				c.deps.Logger.Warn("undecodable container frame",
					slog.String("session_id", c.id), slog.String("error", err.Error()))
				continue
			}
			if !c.post(event{kind: evContainerFrame, frame: frame, gen: gen}) {
				return
			}
		}
		c.post(event{kind: evContainerDown, gen: gen})
	}()
}

func (c *Coordinator) containerDown() {
	c.containerUp = false
	if c.state == StateActive || c.state == StateReconnecting {
		c.setState(StateDisconnected, "container link dropped")
	}
	c.startContainerGrace()

	// Immediate re-acquisition with backoff, bounded by the grace window.
	ctx, cancel := context.WithCancel(c.ctx)
	c.reacquireCancel = cancel
	go func() {
		for {
			handle, err := c.deps.Provider.Acquire(ctx, c.id)
			if err == nil {
				if !c.post(event{kind: evReacquireResult, handle: handle}) {
					handle.Close()
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

func (c *Coordinator) reacquireResult(handle container.Handle, err error) {
	if c.containerUp || c.state == StateTerminating || c.state == StateClosed {
		if handle != nil {
			handle.Close()
		}
		return
	}
	if err != nil {
		return
	}

	c.adoptHandle(handle)
	c.sendToContainer(c.admit(protocol.New(c.id, protocol.KindRestoreRequest)))
	c.replayToContainer()
	if c.client != nil {
		c.setState(StateActive, "container reacquired")
	}
}

// terminate drives Terminating -> Closed. Flush runs on every exit path; a
// failed flush is reported, never a reason to hang the teardown.
func (c *Coordinator) terminate(reason string, errInfo *protocol.ErrorInfo) {
	if c.state == StateTerminating || c.state == StateClosed {
		return
	}
	c.setState(StateTerminating, reason)

	c.approvals.CancelAll()
	c.stopClientGrace()
	c.stopContainerGrace()
	c.stopIdle()
	c.stopStats()
	if c.reacquireCancel != nil {
		c.reacquireCancel()
	}

	// Flush only if the working tree was ever materialized; a session that
	// never finished restoring has nothing to preserve.
	if _, statErr := os.Stat(c.workDir()); statErr == nil {
		if _, err := c.deps.Engine.Flush(context.Background(), c.id, c.workDir()); err != nil {
			c.deps.Logger.Error("final flush failed",
				slog.String("session_id", c.id), slog.String("error", err.Error()))
		}
	}

	if c.client != nil {
		if errInfo != nil {
			frame := protocol.New(c.id, protocol.KindError)
			frame.Error = errInfo
			c.client.Deliver(frame)
		}
		c.client.Close()
		c.client = nil
	}

	c.deps.Provider.Release(c.id)
	c.handle = nil
	c.containerUp = false

	if err := c.deps.Queue.DropSession(context.Background(), c.id); err != nil {
		c.deps.Logger.Warn("dropping session queues failed",
			slog.String("session_id", c.id), slog.String("error", err.Error()))
	}

	c.setState(StateClosed, reason)
}

// --- frame routing ---------------------------------------------------------

func (c *Coordinator) clientFrame(frame protocol.Frame) {
	c.touchIdle()
	frame.SessionID = c.id

	switch frame.Kind {
	case protocol.KindContent:
		c.sendToContainer(c.admit(frame))

	case protocol.KindCancel:
		c.sendToContainer(c.admit(frame))
		turn := ""
		if frame.Cancel != nil {
			turn = frame.Cancel.Turn
		}
		c.approvals.CancelTurn(turn)

	case protocol.KindPermissionResponse:
		if frame.Approval == nil {
			return
		}
		c.resolveApproval(frame.Approval.CorrelationID, frame.Approval.Approve, frame.Approval.Message)

	case protocol.KindQuestionAnswer:
		if frame.Answer == nil {
			return
		}
		c.resolveApproval(frame.Answer.CorrelationID, true, frame.Answer.Answer)

	case protocol.KindSync:
		afterSeq := uint64(0)
		if frame.Sync != nil {
			afterSeq = frame.Sync.AfterSeq
		}
		c.replayToClient(afterSeq)

	default:
		c.deps.Logger.Debug("ignoring client frame",
			slog.String("session_id", c.id), slog.String("kind", string(frame.Kind)))
	}
}

func (c *Coordinator) resolveApproval(correlationID string, approved bool, payload string) {
	if err := c.approvals.Resolve(correlationID, approved, payload); err != nil {
		// Typically a duplicate or late retry: rejected locally, logged,
		// never fatal.
		c.deps.Logger.Info("stale approval response",
			slog.String("session_id", c.id), slog.String("correlation_id", correlationID))
		if c.client != nil {
			frame := protocol.New(c.id, protocol.KindError)
			frame.Error = &protocol.ErrorInfo{
				Code:          protocol.CodeStaleApproval,
				Message:       "approval already settled or unknown",
				CorrelationID: correlationID,
			}
			c.client.Deliver(frame)
		}
	}
}

func (c *Coordinator) containerFrame(frame protocol.Frame) {
	c.touchIdle()
	frame.SessionID = c.id

	switch frame.Kind {
	case protocol.KindContent, protocol.KindMemoryStats:
		c.deliverToClient(c.admit(frame))

	case protocol.KindPermissionRequest, protocol.KindQuestion:
		c.createApproval(frame)

	case protocol.KindDone:
		c.deliverToClient(c.admit(frame))
		c.sendToContainer(c.admit(protocol.New(c.id, protocol.KindCheckpointRequest)))
		go func() {
			_, err := c.deps.Engine.Checkpoint(c.ctx, c.id, c.workDir())
			c.post(event{kind: evCheckpointDone, err: err})
		}()

	case protocol.KindRestoreResult, protocol.KindCheckpointResult:
		// Container-side sync agent outcomes: recorded, never forwarded.
		if frame.SyncOutcome != nil && frame.SyncOutcome.Err == "" {
			c.lastCheckpoint = c.deps.Clock.Now()
		}

	case protocol.KindError:
		c.deliverToClient(c.admit(frame))
		if frame.Error != nil && frame.Error.Terminal {
			c.terminate("container reported terminal error", nil)
		}

	default:
		c.deps.Logger.Debug("ignoring container frame",
			slog.String("session_id", c.id), slog.String("kind", string(frame.Kind)))
	}
}

func (c *Coordinator) createApproval(frame protocol.Frame) {
	correlationID := frame.CorrelationID()
	if correlationID == "" {
		// Protocol misuse by the container agent: rejected locally,
		// never fatal to the session.
		c.deps.Logger.Warn("approval frame without correlation id",
			slog.String("session_id", c.id), slog.String("kind", string(frame.Kind)))
		return
	}
	kind := approval.KindPermission
	turn := ""
	if frame.Kind == protocol.KindQuestion {
		kind = approval.KindQuestion
		if frame.Question != nil {
			turn = frame.Question.Turn
		}
	} else if frame.Permission != nil {
		turn = frame.Permission.Turn
	}

	if err := c.approvals.Create(correlationID, kind, turn); err != nil {
		c.deps.Logger.Warn("duplicate correlation id from container",
			slog.String("session_id", c.id), slog.String("correlation_id", correlationID))
		reject := protocol.New(c.id, protocol.KindError)
		reject.Error = &protocol.ErrorInfo{
			Code:          protocol.CodeDuplicateCorrelation,
			Message:       "correlation id already pending",
			CorrelationID: correlationID,
		}
		c.sendToContainer(c.admit(reject))
		return
	}

	c.emit(observability.EventApprovalCreated, observability.LevelInfo, map[string]any{
		"session_id": c.id, "correlation_id": correlationID, "kind": string(kind),
	})
	c.deliverToClient(c.admit(frame))
}

func (c *Coordinator) approvalSettled(res approval.Resolution) {
	c.emit(observability.EventApprovalResolved, observability.LevelInfo, map[string]any{
		"session_id": c.id, "correlation_id": res.CorrelationID,
		"kind": string(res.Kind), "outcome": string(res.Outcome),
	})

	switch res.Outcome {
	case approval.OutcomeResolved:
		var frame protocol.Frame
		if res.Kind == approval.KindPermission {
			frame = protocol.New(c.id, protocol.KindPermissionResponse)
			frame.Approval = &protocol.PermissionResponse{
				CorrelationID: res.CorrelationID,
				Approve:       res.Approved,
				Message:       res.Payload,
			}
		} else {
			frame = protocol.New(c.id, protocol.KindQuestionAnswer)
			frame.Answer = &protocol.QuestionAnswer{
				CorrelationID: res.CorrelationID,
				Answer:        res.Payload,
			}
		}
		c.sendToContainer(c.admit(frame))

	case approval.OutcomeTimedOut:
		// Signal the timeout to both peers; the agent decides how its
		// blocked turn proceeds.
		c.notifyApprovalEnd(res.CorrelationID, protocol.CodeTimeout, "approval timed out")

	case approval.OutcomeCancelled:
		c.notifyApprovalEnd(res.CorrelationID, protocol.CodeCancelled, "approval cancelled")
	}
}

func (c *Coordinator) notifyApprovalEnd(correlationID string, code protocol.Code, message string) {
	toContainer := protocol.New(c.id, protocol.KindError)
	toContainer.Error = &protocol.ErrorInfo{Code: code, Message: message, CorrelationID: correlationID}
	c.sendToContainer(c.admit(toContainer))

	toClient := protocol.New(c.id, protocol.KindError)
	toClient.Error = &protocol.ErrorInfo{Code: code, Message: message, CorrelationID: correlationID}
	c.deliverToClient(c.admit(toClient))
}

// --- delivery --------------------------------------------------------------

// admit assigns the next sequence number; the frame is immutable afterwards.
func (c *Coordinator) admit(frame protocol.Frame) protocol.Frame {
	c.seq++
	frame.Seq = c.seq
	frame.SessionID = c.id
	c.emit(observability.EventFrameAdmitted, observability.LevelVerbose, map[string]any{
		"session_id": c.id, "seq": frame.Seq, "kind": string(frame.Kind),
	})
	return frame
}

func (c *Coordinator) deliverToClient(frame protocol.Frame) {
	if frame.Internal() {
		return
	}
	if c.client != nil {
		if err := c.client.Deliver(frame); err == nil {
			return
		}
		c.dropClient("client delivery failed")
	}
	c.enqueue(protocol.TargetClient, frame)
}

func (c *Coordinator) sendToContainer(frame protocol.Frame) {
	if c.containerUp {
		data, err := protocol.EncodeBinary(frame)
		if err != nil {
			c.deps.Logger.Error("unencodable frame",
				slog.String("session_id", c.id), slog.String("error", err.Error()))
			return
		}
		if err := c.handle.Send(c.ctx, data); err == nil {
			return
		}
	}
	c.enqueue(protocol.TargetContainer, frame)
}

func (c *Coordinator) enqueue(target protocol.Target, frame protocol.Frame) {
	evicted, err := c.deps.Queue.Enqueue(context.Background(), c.id, target, frame)
	if err != nil {
		c.deps.Logger.Error("enqueue failed",
			slog.String("session_id", c.id), slog.String("target", string(target)),
			slog.String("error", err.Error()))
		return
	}
	if evicted > 0 {
		depth, _ := c.deps.Queue.Depth(context.Background(), c.id, target)
		c.emit(observability.EventQueueOverflow, observability.LevelWarning, map[string]any{
			"session_id": c.id, "target": string(target), "evicted": evicted, "depth": depth,
		})
	}
}

// replayToClient drains buffered client-bound frames in sequence order.
// Called before any live traffic is forwarded to a reconnected client, which
// preserves the replay-then-resume guarantee: the loop delivers the backlog
// here and only afterwards handles the next live event.
func (c *Coordinator) replayToClient(afterSeq uint64) {
	if c.client == nil {
		return
	}

	batch, err := c.deps.Queue.DrainAfter(context.Background(), c.id, protocol.TargetClient, afterSeq)
	if err != nil {
		c.deps.Logger.Error("client replay drain failed",
			slog.String("session_id", c.id), slog.String("error", err.Error()))
		return
	}

	if batch.Truncated {
		notice := protocol.New(c.id, protocol.KindError)
		notice.Error = &protocol.ErrorInfo{
			Code:    protocol.CodeQueueOverflow,
			Message: "history truncated: oldest buffered messages were evicted",
		}
		c.client.Deliver(notice)
	}

	delivered := uint64(0)
	failed := false
	for _, frame := range batch.Frames {
		if err := c.client.Deliver(frame); err != nil {
			failed = true
			break
		}
		delivered = frame.Seq
	}
	if delivered > 0 {
		c.deps.Queue.Ack(context.Background(), c.id, protocol.TargetClient, delivered)
	}
	if failed {
		// Undelivered frames stay queued for the next attach.
		c.dropClient("client delivery failed during replay")
	}

	c.emit(observability.EventReplay, observability.LevelVerbose, map[string]any{
		"session_id": c.id, "target": "client", "replayed": len(batch.Frames),
	})
}

func (c *Coordinator) replayToContainer() {
	if !c.containerUp {
		return
	}

	batch, err := c.deps.Queue.Drain(context.Background(), c.id, protocol.TargetContainer)
	if err != nil {
		c.deps.Logger.Error("container replay drain failed",
			slog.String("session_id", c.id), slog.String("error", err.Error()))
		return
	}

	delivered := uint64(0)
	for _, frame := range batch.Frames {
		data, err := protocol.EncodeBinary(frame)
		if err != nil {
			continue
		}
		if err := c.handle.Send(c.ctx, data); err != nil {
			break
		}
		delivered = frame.Seq
	}
	if delivered > 0 {
		c.deps.Queue.Ack(context.Background(), c.id, protocol.TargetContainer, delivered)
	}

	c.emit(observability.EventReplay, observability.LevelVerbose, map[string]any{
		"session_id": c.id, "target": "container", "replayed": len(batch.Frames),
	})
}

func (c *Coordinator) deliverInit(resumed bool) {
	if c.client == nil {
		return
	}
	frame := protocol.New(c.id, protocol.KindSessionInit)
	frame.Init = &protocol.SessionInit{SessionID: c.id, Resumed: resumed}
	c.client.Deliver(frame)
}

func (c *Coordinator) sendStats() {
	if c.client == nil {
		return
	}

	clientDepth, _ := c.deps.Queue.Depth(context.Background(), c.id, protocol.TargetClient)
	containerDepth, _ := c.deps.Queue.Depth(context.Background(), c.id, protocol.TargetContainer)

	frame := protocol.New(c.id, protocol.KindMemoryStats)
	stats := &protocol.MemoryStats{
		QueuedForClient:    clientDepth,
		QueuedForContainer: containerDepth,
	}
	if !c.lastCheckpoint.IsZero() {
		stats.SnapshotAgeSeconds = int64(c.deps.Clock.Now().Sub(c.lastCheckpoint).Seconds())
	}
	frame.Stats = stats
	c.client.Deliver(frame)
}

// --- timers ----------------------------------------------------------------

func (c *Coordinator) startClientGrace() {
	c.stopClientGrace()
	c.clientGraceTimer = c.deps.Clock.AfterFunc(c.cfg.ClientGrace, func() {
		c.post(event{kind: evClientGraceExpired})
	})
}

func (c *Coordinator) stopClientGrace() {
	if c.clientGraceTimer != nil {
		c.clientGraceTimer.Stop()
		c.clientGraceTimer = nil
	}
}

func (c *Coordinator) startContainerGrace() {
	c.stopContainerGrace()
	c.containerGraceTimer = c.deps.Clock.AfterFunc(c.cfg.ContainerGrace, func() {
		c.post(event{kind: evContainerGraceExpired})
	})
}

func (c *Coordinator) stopContainerGrace() {
	if c.containerGraceTimer != nil {
		c.containerGraceTimer.Stop()
		c.containerGraceTimer = nil
	}
}

func (c *Coordinator) touchIdle() {
	c.stopIdle()
	if c.cfg.IdleTimeout <= 0 {
		return
	}
	c.idleTimer = c.deps.Clock.AfterFunc(c.cfg.IdleTimeout, func() {
		c.post(event{kind: evIdleExpired})
	})
}

func (c *Coordinator) stopIdle() {
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

func (c *Coordinator) startStats() {
	c.stopStats()
	if c.cfg.StatsInterval <= 0 {
		return
	}
	stop := make(chan struct{})
	c.statsStop = stop
	ticker := c.deps.Clock.NewTicker(c.cfg.StatsInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if !c.post(event{kind: evStatsTick}) {
					return
				}
			case <-stop:
				return
			}
		}
	}()
}

func (c *Coordinator) stopStats() {
	if c.statsStop != nil {
		close(c.statsStop)
		c.statsStop = nil
	}
}

// --- bookkeeping -----------------------------------------------------------

func (c *Coordinator) setState(next State, reason string) {
	prev := c.state
	c.state = next
	c.emit(observability.EventSessionTransition, observability.LevelInfo, map[string]any{
		"session_id": c.id, "from": string(prev), "to": string(next), "reason": reason,
	})
}

func (c *Coordinator) publishInfo() {
	c.infoMu.Lock()
	c.info = Info{
		ID:                 c.id,
		State:              c.state,
		ClientConnected:    c.client != nil,
		ContainerConnected: c.containerUp,
		LastSeq:            c.seq,
		PendingApprovals:   c.approvals.Pending(),
	}
	if !c.lastCheckpoint.IsZero() {
		c.info.LastCheckpointUnix = c.lastCheckpoint.Unix()
	}
	c.infoMu.Unlock()
}

func (c *Coordinator) emit(eventType observability.EventType, level observability.Level, data map[string]any) {
	if c.deps.Dispatch == nil {
		return
	}
	c.deps.Dispatch.Emit(eventType, level, "session", data)
}

func (c *Coordinator) workDir() string {
	return filepath.Join(c.cfg.WorkDir, c.id)
}
