package main

import (
	"context"

	"github.com/google/uuid"

	"taskcoord/lib/core"
	"taskcoord/lib/engine"
	"taskcoord/lib/scheduler"
	"taskcoord/lib/slog"
)

// naivePolicy is a placeholder scheduling policy, standing in for the
// external module the coordinator defers placement decisions to. It
// round-robins every Ready task across whatever workers are currently
// known, ignoring declared core counts, locality, and priority entirely.
// It exists only so the coordinator is runnable standalone; a real
// deployment replaces it with an out-of-process policy reached over the
// same Inbound/Outbound pair.
type naivePolicy struct {
	logger   slog.Logger
	inbound  chan<- scheduler.FromSchedulerEvent
	outbound <-chan scheduler.ToSchedulerEvent
	workerLC <-chan engine.WorkerLifecycleEvent

	workers []core.WorkerID
	next    int

	ready []core.TaskID
}

func newNaivePolicy(logger slog.Logger, inbound chan<- scheduler.FromSchedulerEvent, outbound <-chan scheduler.ToSchedulerEvent, workerLC <-chan engine.WorkerLifecycleEvent) *naivePolicy {
	return &naivePolicy{logger: logger, inbound: inbound, outbound: outbound, workerLC: workerLC}
}

// run registers the policy, then assigns Ready tasks to known workers as
// both arrive, in whichever order they do. It returns when ctx is
// cancelled or its channels close.
func (p *naivePolicy) run(ctx context.Context) {
	register := scheduler.RegisterInfo{
		PolicyName:   "naive-round-robin",
		SessionNonce: uuid.NewString(),
	}
	select {
	case p.inbound <- scheduler.FromSchedulerEvent{Kind: scheduler.FromSchedulerRegister, Register: register}:
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-p.outbound:
			if !ok {
				return
			}
			p.handleSchedulerEvent(ctx, ev)
		case lc, ok := <-p.workerLC:
			if !ok {
				p.workerLC = nil
				continue
			}
			p.handleWorkerLifecycle(ctx, lc)
		}
	}
}

func (p *naivePolicy) handleSchedulerEvent(ctx context.Context, ev scheduler.ToSchedulerEvent) {
	switch ev.Kind {
	case scheduler.ToSchedulerTaskNew:
		// Descriptor carries the dependency graph for policies that place
		// by locality or lookahead; this placeholder ignores it and waits
		// for the corresponding TaskReady instead.
	case scheduler.ToSchedulerTaskReady:
		p.ready = append(p.ready, ev.TaskID)
	case scheduler.ToSchedulerLostData:
		// A demoted task is re-announced via TaskReady once it is actually
		// re-placeable; LostData alone is informational here.
	}
	p.drain(ctx)
}

func (p *naivePolicy) handleWorkerLifecycle(ctx context.Context, lc engine.WorkerLifecycleEvent) {
	switch lc.Kind {
	case engine.WorkerUp:
		p.workers = append(p.workers, lc.WorkerID)
	case engine.WorkerDown:
		for i, w := range p.workers {
			if w == lc.WorkerID {
				p.workers = append(p.workers[:i], p.workers[i+1:]...)
				break
			}
		}
	}
	p.drain(ctx)
}

// drain assigns every pending ready task, round-robin across the known
// workers, in one TaskAssignments batch. With no known workers it assigns
// nothing and the ready tasks wait for the next drain call.
func (p *naivePolicy) drain(ctx context.Context) {
	if len(p.workers) == 0 {
		return
	}
	var assignments []scheduler.Assignment
	for len(p.ready) > 0 {
		taskID := p.ready[0]
		p.ready = p.ready[1:]
		workerID := p.workers[p.next%len(p.workers)]
		p.next++
		assignments = append(assignments, scheduler.Assignment{TaskID: taskID, WorkerID: workerID})
	}
	if len(assignments) == 0 {
		return
	}
	select {
	case p.inbound <- scheduler.FromSchedulerEvent{Kind: scheduler.FromSchedulerTaskAssignments, Assignments: assignments}:
	case <-ctx.Done():
	}
}
