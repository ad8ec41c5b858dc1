// Package notify implements the coordinator's notification batcher: within
// one tick, accumulate client-, worker-, and scheduler-directed outputs,
// then drain them in per-recipient insertion order.
//
// Batch is deliberately decoupled from the wire encoding (package wire):
// it names tasks by ids.TaskID, not by wire message. The translation from
// a drained Batch into wire.Packets happens in package engine, mirroring
// how rsds's Comm::notify converts a Notifications value into DaskPackets
// only at send time. It is also decoupled from package core itself (it
// imports only the leaf ids package) so that core's transition functions,
// which take a *Batch, can live in the same package as the Store without
// an import cycle.
package notify

import "taskcoord/lib/ids"

type ClientEventKind int8

const (
	ClientInMemory ClientEventKind = iota
	ClientTaskErred
)

type ClientEvent struct {
	Kind   ClientEventKind
	TaskID ids.TaskID
}

type WorkerEventKind int8

const (
	WorkerCompute WorkerEventKind = iota
	WorkerDelete
	WorkerSteal
)

// WorkerEvent is one queued worker-directed notification. Key is populated
// for WorkerDelete and WorkerSteal at emit time: both name a task that may
// already have been removed from the Store by the time the batch is
// drained (garbage collection removes a task in the same tick it queues
// the delete), so the key the worker needs cannot be recovered from the
// Store at drain time and must travel with the event itself. WorkerCompute
// leaves Key empty; its task is still live in the Store when it is drained,
// since an Assigned task is never removed out from under its assignment.
type WorkerEvent struct {
	Kind   WorkerEventKind
	TaskID ids.TaskID
	Key    string
}

type SchedulerEventKind int8

const (
	SchedulerTaskNew SchedulerEventKind = iota
	SchedulerTaskReady
	SchedulerLostData
)

type SchedulerEvent struct {
	Kind   SchedulerEventKind
	TaskID ids.TaskID
}

// Batch accumulates the notifications produced while processing one tick:
// one inbound message together with all of its synchronous consequences.
type Batch struct {
	Scheduler []SchedulerEvent

	clients     map[ids.ClientID][]ClientEvent
	clientOrder []ids.ClientID
	workers     map[ids.WorkerID][]WorkerEvent
	workerOrder []ids.WorkerID
}

func NewBatch() *Batch {
	return &Batch{
		clients: make(map[ids.ClientID][]ClientEvent),
		workers: make(map[ids.WorkerID][]WorkerEvent),
	}
}

// ClientInMemory records that taskID became InMemory and should be
// reported to client c as KeyInMemory, unless c has already been told
// TaskErred for the same task within this batch: an error always wins over
// an in-memory notification for the same key in the same tick.
func (b *Batch) ClientInMemory(c ids.ClientID, taskID ids.TaskID) {
	events := b.clients[c]
	for _, e := range events {
		if e.TaskID == taskID && e.Kind == ClientTaskErred {
			return // error already queued this tick; suppress.
		}
	}
	b.appendClient(c, ClientEvent{Kind: ClientInMemory, TaskID: taskID})
}

// ClientTaskErred records that taskID failed and should be reported to
// client c as TaskErred. If an in-memory notification for the same task
// was already queued this tick, it is withdrawn: error wins.
func (b *Batch) ClientTaskErred(c ids.ClientID, taskID ids.TaskID) {
	events := b.clients[c]
	filtered := events[:0]
	for _, e := range events {
		if e.TaskID == taskID && e.Kind == ClientInMemory {
			continue // withdraw the suppressed in-memory notification
		}
		filtered = append(filtered, e)
	}
	b.clients[c] = filtered
	b.appendClient(c, ClientEvent{Kind: ClientTaskErred, TaskID: taskID})
}

func (b *Batch) appendClient(c ids.ClientID, e ClientEvent) {
	if _, ok := b.clients[c]; !ok {
		b.clientOrder = append(b.clientOrder, c)
	}
	b.clients[c] = append(b.clients[c], e)
}

func (b *Batch) WorkerCompute(w ids.WorkerID, taskID ids.TaskID) {
	b.appendWorker(w, WorkerEvent{Kind: WorkerCompute, TaskID: taskID})
}

// WorkerDelete records that worker w should be told to drop its copy of
// taskID's data. key is taskID's task key at the moment of emission; see
// WorkerEvent.Key.
func (b *Batch) WorkerDelete(w ids.WorkerID, taskID ids.TaskID, key string) {
	b.appendWorker(w, WorkerEvent{Kind: WorkerDelete, TaskID: taskID, Key: key})
}

// WorkerSteal records that worker w should be asked to give up taskID so it
// can be reassigned elsewhere. key is taskID's task key at the moment of
// emission; see WorkerEvent.Key.
func (b *Batch) WorkerSteal(w ids.WorkerID, taskID ids.TaskID, key string) {
	b.appendWorker(w, WorkerEvent{Kind: WorkerSteal, TaskID: taskID, Key: key})
}

func (b *Batch) appendWorker(w ids.WorkerID, e WorkerEvent) {
	if _, ok := b.workers[w]; !ok {
		b.workerOrder = append(b.workerOrder, w)
	}
	b.workers[w] = append(b.workers[w], e)
}

func (b *Batch) SchedulerNew(taskID ids.TaskID) {
	b.Scheduler = append(b.Scheduler, SchedulerEvent{Kind: SchedulerTaskNew, TaskID: taskID})
}

func (b *Batch) SchedulerReady(taskID ids.TaskID) {
	b.Scheduler = append(b.Scheduler, SchedulerEvent{Kind: SchedulerTaskReady, TaskID: taskID})
}

func (b *Batch) SchedulerLost(taskID ids.TaskID) {
	b.Scheduler = append(b.Scheduler, SchedulerEvent{Kind: SchedulerLostData, TaskID: taskID})
}

// IsEmpty reports whether the batch carries no notifications at all.
func (b *Batch) IsEmpty() bool {
	return len(b.Scheduler) == 0 && len(b.clientOrder) == 0 && len(b.workerOrder) == 0
}

// ClientOrder returns the clients with pending events, in the order their
// first event was queued.
func (b *Batch) ClientOrder() []ids.ClientID {
	return b.clientOrder
}

// ClientEvents returns the pending events for client c, in queue order.
func (b *Batch) ClientEvents(c ids.ClientID) []ClientEvent {
	return b.clients[c]
}

// WorkerOrder returns the workers with pending events, in the order their
// first event was queued.
func (b *Batch) WorkerOrder() []ids.WorkerID {
	return b.workerOrder
}

// WorkerEvents returns the pending events for worker w, in queue order.
func (b *Batch) WorkerEvents(w ids.WorkerID) []WorkerEvent {
	return b.workers[w]
}
