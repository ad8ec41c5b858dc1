// Package scheduler implements the coordinator's channel to the external
// scheduling policy: an asynchronous, bidirectional conduit over which the
// coordinator announces new/ready/lost tasks and the policy returns worker
// assignments. Both directions are the Go channels supplied in
// ChannelConfig, so their capacity is whatever the caller gave them; Send
// blocks while Outbound is full. The policy module itself is out of scope;
// this package only owns the channel discipline around it.
package scheduler

import (
	"context"
	"sync"

	"taskcoord/lib/core"
	"taskcoord/lib/slog"
)

// TaskDescriptor is the spec-free view of a task the policy needs to place
// it: identity, priorities, and dependency ids. No task spec bytes are
// included; the policy never sees task payloads.
type TaskDescriptor struct {
	TaskID       core.TaskID
	Dependencies []core.TaskID
	UserPriority int32
	Actors       bool
}

// ToSchedulerEventKind discriminates an outbound scheduler event.
type ToSchedulerEventKind int8

const (
	ToSchedulerTaskNew ToSchedulerEventKind = iota
	ToSchedulerTaskReady
	ToSchedulerLostData
)

type ToSchedulerEvent struct {
	Kind       ToSchedulerEventKind
	Descriptor TaskDescriptor // populated for TaskNew
	TaskID     core.TaskID    // populated for TaskReady / LostData
}

// RegisterInfo is the payload of the policy's mandatory first message.
// SessionNonce is an opaque session token the policy mints for itself (a
// UUID in practice); the coordinator logs it for correlating policy
// restarts across log lines but never interprets it.
type RegisterInfo struct {
	PolicyName   string
	SessionNonce string
}

// Assignment is one (task, worker) placement decision.
type Assignment struct {
	TaskID   core.TaskID
	WorkerID core.WorkerID
	Priority int32
}

// FromSchedulerEventKind discriminates an inbound scheduler event.
type FromSchedulerEventKind int8

const (
	FromSchedulerRegister FromSchedulerEventKind = iota
	FromSchedulerTaskAssignments
)

type FromSchedulerEvent struct {
	Kind        FromSchedulerEventKind
	Register    RegisterInfo
	Assignments []Assignment
}

// AssignmentSink is notified of each batch of assignments the policy
// returns, and of a fatal protocol violation. Implementations must be safe
// to call from the channel's consumer goroutine; the engine is expected to
// translate these calls into store mutations on its own single-threaded
// loop, so ReportAssignments and ReportFatal are invoked serially.
type AssignmentSink interface {
	ReportAssignments(batch []Assignment)
	ReportFatal(err error)
}

// ChannelConfig configures a Channel.
type ChannelConfig struct {
	Sink AssignmentSink
	// Inbound is the transport-level or in-process source of
	// FromSchedulerEvent values, e.g. backed by a decoded wire stream or a
	// Go channel shared with an in-process policy implementation.
	Inbound <-chan FromSchedulerEvent
	// Outbound is where ToSchedulerEvent values are written; draining it is
	// the responsibility of whatever transport or in-process policy
	// consumes it.
	Outbound chan<- ToSchedulerEvent
	// Logger receives the one-time Register handshake as an Info record. May
	// be nil, in which case the handshake is not logged.
	Logger slog.Logger
}

// Channel owns the registration handshake and the assignment-consumption
// loop for one scheduler policy connection, mirroring the probe-pool shape
// of a config struct plus a background goroutine reporting to a sink: here
// the "probe" is the scheduler's assignment stream and the "sink" is the
// coordination engine.
type Channel struct {
	cfg ChannelConfig

	mu      sync.Mutex
	started bool
	stopped bool
	done    context.CancelFunc
	wg      sync.WaitGroup
}

func NewChannel(cfg ChannelConfig) *Channel {
	return &Channel{cfg: cfg}
}

// Start launches the consumption loop. It does not block; assignments and
// fatal errors are reported to the configured AssignmentSink asynchronously.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.stopped = false

	loopCtx, cancel := context.WithCancel(ctx)
	c.done = cancel

	c.wg.Add(1)
	go c.consume(loopCtx)
}

// Stop cancels the consumption loop and blocks until it has exited.
func (c *Channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started || c.stopped {
		return
	}
	c.started = false
	c.stopped = true
	c.done()
	c.wg.Wait()
}

// Send queues an outbound event for the policy. It is safe to call from the
// engine's single goroutine.
func (c *Channel) Send(ctx context.Context, ev ToSchedulerEvent) error {
	select {
	case c.cfg.Outbound <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) consume(ctx context.Context) {
	defer c.wg.Done()

	registered := false
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.cfg.Inbound:
			if !ok {
				return
			}
			if !registered {
				if ev.Kind != FromSchedulerRegister {
					c.cfg.Sink.ReportFatal(errSchedulerProtocolBeforeRegister)
					return
				}
				registered = true
				if c.cfg.Logger != nil {
					c.cfg.Logger.Info(&slog.LogRecord{
						Msg:     "scheduler.Channel: policy registered",
						Details: ev.Register,
					})
				}
				continue
			}
			switch ev.Kind {
			case FromSchedulerRegister:
				c.cfg.Sink.ReportFatal(errSchedulerDuplicateRegister)
				return
			case FromSchedulerTaskAssignments:
				c.cfg.Sink.ReportAssignments(ev.Assignments)
			}
		}
	}
}
