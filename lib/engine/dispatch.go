package engine

import (
	"context"

	"taskcoord/lib/core"
	"taskcoord/lib/notify"
	"taskcoord/lib/scheduler"
	"taskcoord/lib/slog"
	"taskcoord/lib/wire"
)

// sortTaskIDs orders a small slice of task ids ascending; batches are small
// enough that insertion sort beats pulling in sort.Slice's comparator.
func sortTaskIDs(ids []core.TaskID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

func (e *Engine) handleWorkerMessage(batch *notify.Batch, workerID core.WorkerID, msg wire.FromWorkerMessage) {
	switch msg.Op {
	case wire.OpKeepAlive:
		// no-op: liveness only.
	case wire.OpTaskFinished:
		task, ok := e.store.GetTaskByKey(msg.TaskFinished.Key)
		if !ok {
			e.logger.Warn(&slog.LogRecord{Msg: "Engine: TaskFinished named an unknown key", TaskKey: msg.TaskFinished.Key, WorkerID: slog.U64(uint64(workerID))})
			return
		}
		core.TaskFinished(e.store, batch, task.ID, workerID, msg.TaskFinished.Type)
	case wire.OpTaskErred:
		task, ok := e.store.GetTaskByKey(msg.TaskErred.Key)
		if !ok {
			e.logger.Warn(&slog.LogRecord{Msg: "Engine: TaskErred named an unknown key", TaskKey: msg.TaskErred.Key, WorkerID: slog.U64(uint64(workerID))})
			return
		}
		core.TaskErred(e.store, batch, task.ID, workerID, core.ErrorInfo{
			Exception: msg.TaskErred.Exception,
			Traceback: msg.TaskErred.Traceback,
			Frames:    msg.TaskErred.Frames,
		})
	}
}

// sendScheduler forwards one event to the policy channel. It blocks the
// event loop while the channel's Outbound queue is full; if ctx is cancelled
// first, the event is logged as a failed send and discarded.
func (e *Engine) sendScheduler(ctx context.Context, ev scheduler.ToSchedulerEvent) {
	if e.schedCh == nil {
		return
	}
	if err := e.schedCh.Send(ctx, ev); err != nil {
		e.logger.Warn(&slog.LogRecord{Msg: "Engine: scheduler channel send failed", Error: err})
	}
}

// drainBatch translates one tick's accumulated notify.Batch into wire sends
// to the live client/worker sessions and scheduler events to the policy
// channel, in the batch's own per-recipient insertion order.
func (e *Engine) drainBatch(ctx context.Context, batch *notify.Batch) {
	for _, clientID := range batch.ClientOrder() {
		cs, ok := e.clients[clientID]
		if !ok {
			continue
		}
		for _, ev := range batch.ClientEvents(clientID) {
			task, ok := e.store.GetTask(ev.TaskID)
			if !ok {
				continue
			}
			switch ev.Kind {
			case notify.ClientInMemory:
				cs.Send(wire.ToClientMessage{
					Op:          wire.OpKeyInMemory,
					KeyInMemory: &wire.KeyInMemoryMsg{Key: task.Key, Type: task.DataType},
				})
			case notify.ClientTaskErred:
				msg := &wire.ClientTaskErredMsg{Key: task.Key}
				if task.ErrInfo != nil {
					msg.Exception = task.ErrInfo.Exception
					msg.Traceback = task.ErrInfo.Traceback
				}
				cs.Send(wire.ToClientMessage{Op: wire.OpTaskErred, TaskErred: msg})
			}
		}
	}

	for _, workerID := range batch.WorkerOrder() {
		ws, ok := e.workers[workerID]
		if !ok {
			continue
		}
		for _, ev := range batch.WorkerEvents(workerID) {
			switch ev.Kind {
			case notify.WorkerCompute:
				// An Assigned task is never removed from the store out
				// from under its own assignment, so the lookup here is
				// always live.
				task, ok := e.store.GetTask(ev.TaskID)
				if !ok {
					continue
				}
				ws.Send(e.computeTaskMessage(task))
			case notify.WorkerDelete:
				// ev.Key travels with the event rather than coming from a
				// store lookup: garbage collection removes the task from
				// the store in the same tick it queues this event.
				ws.Send(wire.ToWorkerMessage{
					Op:         wire.OpDeleteData,
					DeleteData: &wire.DeleteDataMsg{Keys: []string{ev.Key}},
				})
			case notify.WorkerSteal:
				ws.Send(wire.ToWorkerMessage{
					Op:           wire.OpStealRequest,
					StealRequest: &wire.StealRequestMsg{Key: ev.Key},
				})
			}
		}
	}

	for _, ev := range batch.Scheduler {
		switch ev.Kind {
		case notify.SchedulerTaskNew:
			task, ok := e.store.GetTask(ev.TaskID)
			if !ok {
				continue
			}
			e.sendScheduler(ctx, scheduler.ToSchedulerEvent{
				Kind: scheduler.ToSchedulerTaskNew,
				Descriptor: scheduler.TaskDescriptor{
					TaskID:       task.ID,
					Dependencies: task.Dependencies.Sorted(),
					UserPriority: task.UserPriority,
					Actors:       task.Actors,
				},
			})
		case notify.SchedulerTaskReady:
			e.sendScheduler(ctx, scheduler.ToSchedulerEvent{Kind: scheduler.ToSchedulerTaskReady, TaskID: ev.TaskID})
		case notify.SchedulerLostData:
			e.sendScheduler(ctx, scheduler.ToSchedulerEvent{Kind: scheduler.ToSchedulerLostData, TaskID: ev.TaskID})
		}
	}
}

// computeTaskMessage builds the wire message instructing a worker to
// compute task, including the dependency keys it must already hold. The
// spec's blobs travel inline in the message body; no side-channel frames
// are attached (ComputeTaskMsg.Frames is left empty).
func (e *Engine) computeTaskMessage(task *core.Task) wire.ToWorkerMessage {
	depKeys := make([]string, 0, len(task.Dependencies))
	for _, depID := range task.Dependencies.Sorted() {
		if dep, ok := e.store.GetTask(depID); ok {
			depKeys = append(depKeys, dep.Key)
		}
	}
	return wire.ToWorkerMessage{
		Op: wire.OpComputeTask,
		ComputeTask: &wire.ComputeTaskMsg{
			Key:           task.Key,
			Spec:          fromCoreSpec(task.Spec),
			Dependencies:  depKeys,
			UserPriority:  task.UserPriority,
			SchedPriority: task.SchedulerPriority,
			Actors:        task.Actors,
		},
	}
}

func fromCoreSpec(s core.TaskSpec) wire.ClientTaskSpec {
	if s.Form == core.SpecSerialized {
		return wire.ClientTaskSpec{Form: wire.SpecSerialized, Serialized: s.Blob}
	}
	return wire.ClientTaskSpec{
		Form: wire.SpecDirect,
		Direct: wire.DirectTaskSpec{
			Function: s.Function,
			Args:     s.Args,
			Kwargs:   s.Kwargs,
		},
	}
}
