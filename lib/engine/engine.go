// Package engine implements the coordination engine: the single-threaded
// event loop that owns the entity store and turns inbound client/worker/
// scheduler events into store transitions and outbound notifications.
//
// Its accept-loop shape is a for-loop dispatching to per-peer goroutines
// that communicate back through channels rather than shared memory, with
// the scheduler side modelled on an observe-and-report loop over its own
// channel pair.
package engine

import (
	"context"
	"sync"

	"taskcoord/lib/core"
	"taskcoord/lib/notify"
	"taskcoord/lib/scheduler"
	"taskcoord/lib/session"
	"taskcoord/lib/slog"
	"taskcoord/lib/wire"
)

// WorkerLifecycleKind discriminates a WorkerLifecycleEvent.
type WorkerLifecycleKind int8

const (
	WorkerUp WorkerLifecycleKind = iota
	WorkerDown
)

// WorkerLifecycleEvent reports a worker joining or leaving the pool. It
// exists purely as an observability hook alongside the formal scheduler
// channel: the policy protocol itself never mentions workers (placement
// recipients are opaque ids to the coordinator), so anything that needs to
// learn which worker ids currently exist — a demo placement policy, a
// metrics exporter — listens here instead.
type WorkerLifecycleEvent struct {
	Kind     WorkerLifecycleKind
	WorkerID core.WorkerID
}

type eventKind int8

const (
	eventClientAccepted eventKind = iota
	eventClientMessage
	eventClientDisconnected
	eventWorkerAccepted
	eventWorkerMessage
	eventWorkerDisconnected
	eventSchedulerAssignments
	eventSchedulerFatal
)

type event struct {
	kind eventKind

	clientSession *session.ClientSession
	clientID      core.ClientID
	clientMsg     wire.FromClientMessage

	workerSession *session.WorkerSession
	workerID      core.WorkerID
	workerMsg     wire.FromWorkerMessage

	assignments []scheduler.Assignment
	err         error
}

// Engine is the coordinator's single-threaded event loop. Every exported
// method except Run only enqueues an event; all store mutation happens
// inside Run's goroutine.
type Engine struct {
	logger    slog.Logger
	store     *core.Store
	schedCh   *scheduler.Channel
	workerLC  chan<- WorkerLifecycleEvent
	events    chan event
	clients   map[core.ClientID]*session.ClientSession
	workers   map[core.WorkerID]*session.WorkerSession
	now       func() int64

	mu       sync.Mutex
	fatalErr error
}

// Config wires an Engine to its scheduler channel and clock. SchedulerChan
// is the only handle onto the policy conduit: it owns both the inbound
// registration/assignment stream (consumed on its own goroutine, reporting
// back to the Engine via scheduler.AssignmentSink) and the outbound Send
// method the engine uses to announce new/ready/lost tasks, so no separate
// raw channel needs to be threaded through Config.
type Config struct {
	Logger        slog.Logger
	SchedulerChan *scheduler.Channel
	Now           func() int64
	EventBuffer   int

	// WorkerLifecycle, if non-nil, receives a best-effort WorkerUp/WorkerDown
	// event whenever the engine registers or removes a worker. Sends never
	// block the event loop: a full or absent channel simply misses the
	// notification.
	WorkerLifecycle chan<- WorkerLifecycleEvent
}

func New(cfg Config) *Engine {
	bufSize := cfg.EventBuffer
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Engine{
		logger:   cfg.Logger,
		store:    core.NewStore(),
		schedCh:  cfg.SchedulerChan,
		workerLC: cfg.WorkerLifecycle,
		events:   make(chan event, bufSize),
		clients:  make(map[core.ClientID]*session.ClientSession),
		workers:  make(map[core.WorkerID]*session.WorkerSession),
		now:      cfg.Now,
	}
}

// SetSchedulerChannel attaches the scheduler channel after construction,
// since building a Channel requires the Engine as its AssignmentSink: the
// two are mutually referential and cannot both be produced by one
// constructor call. Call this once, before Run.
func (e *Engine) SetSchedulerChannel(ch *scheduler.Channel) {
	e.schedCh = ch
}

func (e *Engine) notifyWorkerLifecycle(kind WorkerLifecycleKind, id core.WorkerID) {
	if e.workerLC == nil {
		return
	}
	select {
	case e.workerLC <- WorkerLifecycleEvent{Kind: kind, WorkerID: id}:
	default:
	}
}

// AcceptClient implements session.EngineGateway. It allocates a client id
// synchronously (so the caller can use it immediately for logging) and
// enqueues the rest of the registration.
func (e *Engine) AcceptClient(s *session.ClientSession) {
	id := e.store.NewClientID()
	s.Bind(id, e)
	e.events <- event{kind: eventClientAccepted, clientSession: s, clientID: id}
}

func (e *Engine) AcceptWorker(s *session.WorkerSession) {
	id := e.store.NewWorkerID()
	hb := wire.HeartbeatResponse{Status: "OK", Time: e.now(), HeartbeatInterval: 5}
	if err := s.Bind(id, e, hb); err != nil {
		e.logger.Warn(&slog.LogRecord{Msg: "Engine: worker handshake write failed", WorkerID: slog.U64(uint64(id)), Error: err})
	}
	e.events <- event{kind: eventWorkerAccepted, workerSession: s, workerID: id}
}

// HandleClientMessage implements session.ClientGateway.
func (e *Engine) HandleClientMessage(id core.ClientID, msg wire.FromClientMessage) {
	e.events <- event{kind: eventClientMessage, clientID: id, clientMsg: msg}
}

func (e *Engine) ClientDisconnected(id core.ClientID) {
	e.events <- event{kind: eventClientDisconnected, clientID: id}
}

// HandleWorkerMessage implements session.WorkerGateway.
func (e *Engine) HandleWorkerMessage(id core.WorkerID, msg wire.FromWorkerMessage) {
	e.events <- event{kind: eventWorkerMessage, workerID: id, workerMsg: msg}
}

func (e *Engine) WorkerDisconnected(id core.WorkerID) {
	e.events <- event{kind: eventWorkerDisconnected, workerID: id}
}

// ReportAssignments implements scheduler.AssignmentSink.
func (e *Engine) ReportAssignments(batch []scheduler.Assignment) {
	e.events <- event{kind: eventSchedulerAssignments, assignments: batch}
}

func (e *Engine) ReportFatal(err error) {
	e.events <- event{kind: eventSchedulerFatal, err: err}
}

// FatalErr returns the scheduler-fatal error that stopped the loop, if any.
func (e *Engine) FatalErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatalErr
}

// Run drains events until ctx is cancelled or a scheduler-fatal error
// arrives. It is the coordinator's sole mutator of *core.Store.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			if !e.handle(ctx, ev) {
				return
			}
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev event) bool {
	batch := notify.NewBatch()

	switch ev.kind {
	case eventClientAccepted:
		client := core.NewClient(ev.clientID)
		e.store.RegisterClient(client)
		e.clients[ev.clientID] = ev.clientSession

	case eventClientMessage:
		e.handleClientMessage(ctx, batch, ev.clientID, ev.clientMsg)

	case eventClientDisconnected:
		core.UnregisterClient(e.store, batch, ev.clientID)
		delete(e.clients, ev.clientID)

	case eventWorkerAccepted:
		worker := core.NewWorker(ev.workerID, ev.workerSession.Register.ListenAddress, ev.workerSession.Register.NCPUs)
		e.store.RegisterWorker(worker)
		e.workers[ev.workerID] = ev.workerSession
		e.notifyWorkerLifecycle(WorkerUp, ev.workerID)

	case eventWorkerMessage:
		e.handleWorkerMessage(batch, ev.workerID, ev.workerMsg)

	case eventWorkerDisconnected:
		core.UnregisterWorker(e.store, batch, ev.workerID)
		delete(e.workers, ev.workerID)
		e.notifyWorkerLifecycle(WorkerDown, ev.workerID)

	case eventSchedulerAssignments:
		for _, a := range ev.assignments {
			switch core.ApplyAssignment(e.store, batch, a.TaskID, a.WorkerID, a.Priority) {
			case core.AssignmentUnknownTask:
				e.logger.Warn(&slog.LogRecord{Msg: "Engine: scheduler assigned unknown task id, dropping", TaskID: slog.U64(uint64(a.TaskID)), WorkerID: slog.U64(uint64(a.WorkerID))})
			case core.AssignmentUnknownWorker:
				e.logger.Warn(&slog.LogRecord{Msg: "Engine: scheduler assigned unknown worker id, dropping", TaskID: slog.U64(uint64(a.TaskID)), WorkerID: slog.U64(uint64(a.WorkerID))})
			}
		}

	case eventSchedulerFatal:
		e.mu.Lock()
		e.fatalErr = ev.err
		e.mu.Unlock()
		e.logger.Error(&slog.LogRecord{Msg: "Engine: scheduler channel fatal error", Error: ev.err})
		return false
	}

	e.drainBatch(ctx, batch)
	return true
}
