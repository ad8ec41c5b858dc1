package core

import "taskcoord/lib/notify"

// EmitNewTasks queues a SchedulerNew event for each of the given
// freshly-created tasks, in the order given. Callers are responsible for
// ordering the slice topologically (dependencies before dependents) before
// calling this; EmitNewTasks does not sort. A task that is already Ready at
// creation time (every dependency was already InMemory when it was added)
// gets an immediate SchedulerReady right behind its SchedulerNew, since it
// will never pass through resolveDependency to earn one otherwise.
func EmitNewTasks(batch *notify.Batch, tasks []*Task) {
	for _, t := range tasks {
		batch.SchedulerNew(t.ID)
		if t.State == Ready {
			batch.SchedulerReady(t.ID)
		}
	}
}

// AssignmentOutcome reports what ApplyAssignment did with one assignment,
// so the caller can decide whether a dropped-assignment warning belongs in
// the log: an unknown task or worker id is dropped with a warning, while a
// stale re-assignment of an already Assigned/InMemory/Error task is ordinary
// late-arrival noise and does not warrant one.
type AssignmentOutcome int8

const (
	AssignmentApplied AssignmentOutcome = iota
	AssignmentUnknownTask
	AssignmentUnknownWorker
	AssignmentStale
)

// ApplyAssignment processes one (task, worker) assignment from the
// scheduler policy. If the task is not Ready, or the worker is not
// registered, the assignment is discarded as late-arriving or stale; the
// returned AssignmentOutcome tells the caller which.
func ApplyAssignment(s *Store, batch *notify.Batch, taskID TaskID, workerID WorkerID, schedulerPriority int32) AssignmentOutcome {
	task, ok := s.GetTask(taskID)
	if !ok {
		return AssignmentUnknownTask
	}
	if task.State != Ready {
		return AssignmentStale
	}
	worker, ok := s.Worker(workerID)
	if !ok {
		return AssignmentUnknownWorker
	}
	task.State = Assigned
	task.AssignedWorker = workerID
	task.HasAssignedWorker = true
	task.SchedulerPriority = schedulerPriority
	worker.Owns.Add(taskID)
	batch.WorkerCompute(workerID, taskID)
	return AssignmentApplied
}

// TaskFinished processes a worker's report that it finished computing a
// task. The task must be Assigned; callers dispatching from the wire layer
// already guard this, but TaskFinished re-checks and is a no-op otherwise (a
// worker may report a task the coordinator has already reassigned or
// forgotten).
func TaskFinished(s *Store, batch *notify.Batch, taskID TaskID, workerID WorkerID, dataType []byte) {
	task, ok := s.GetTask(taskID)
	if !ok || task.State != Assigned {
		return
	}
	task.State = InMemory
	task.WorkerOwners.Add(workerID)
	task.DataType = dataType
	task.HasAssignedWorker = false

	for c := range task.ClientOwners {
		batch.ClientInMemory(c, taskID)
	}

	resolveDependency(s, batch, task)
}

// resolveDependency decrements UnmetCount on every dependent of a task that
// just became InMemory, promoting any dependent whose count reaches zero
// from Waiting to Ready. When multiple dependents become Ready as a
// consequence of one event, their TaskReady notifications are emitted in
// ascending task id.
func resolveDependency(s *Store, batch *notify.Batch, dep *Task) {
	newlyReady := make([]TaskID, 0, len(dep.Dependents))
	for _, depdtID := range dep.Dependents.Sorted() {
		dependent, ok := s.GetTask(depdtID)
		if !ok {
			continue
		}
		if dependent.State != Waiting {
			continue
		}
		dependent.UnmetCount--
		if dependent.UnmetCount == 0 {
			dependent.State = Ready
			newlyReady = append(newlyReady, dependent.ID)
		}
	}
	sortTaskIDs(newlyReady)
	for _, id := range newlyReady {
		batch.SchedulerReady(id)
	}
}

// TaskErred processes a worker's report that it failed to compute a task.
// The error is propagated to every dependent transitively, each entering
// Error state with an ErrorInfo whose CauseTaskID names this task.
func TaskErred(s *Store, batch *notify.Batch, taskID TaskID, workerID WorkerID, info ErrorInfo) {
	task, ok := s.GetTask(taskID)
	if !ok || task.State != Assigned {
		return
	}
	task.State = Error
	task.ErrInfo = &info
	task.HasAssignedWorker = false
	if w, ok := s.Worker(workerID); ok {
		w.Owns.Remove(taskID)
	}

	propagateError(s, batch, task)
}

// propagateError emits TaskErred to task's own client owners, then walks
// task's dependents in ascending id order, transitioning each (if not
// already terminal) into Error with a cause referencing task, and recurses.
func propagateError(s *Store, batch *notify.Batch, task *Task) {
	for c := range task.ClientOwners {
		batch.ClientTaskErred(c, task.ID)
	}
	for _, dependentID := range task.Dependents.Sorted() {
		dependent, ok := s.GetTask(dependentID)
		if !ok || dependent.State == Error {
			continue
		}
		dependent.State = Error
		dependent.ErrInfo = &ErrorInfo{CauseTaskID: task.ID, HasCause: true}
		propagateError(s, batch, dependent)
	}
}

// ClientDesiresKeys adds clientID as an owner of each named task and
// immediately schedules the appropriate notification if the task has
// already reached a terminal or in-memory state, so a client that asks
// about a key after the fact still gets told the outcome. Unknown keys are
// reported back via the returned slice so the caller can log them; they do
// not abort processing of the rest of the batch.
func ClientDesiresKeys(s *Store, batch *notify.Batch, clientID ClientID, keys []string) (unknown []string) {
	client, ok := s.Client(clientID)
	if !ok {
		return keys
	}
	for _, key := range keys {
		task, ok := s.GetTaskByKey(key)
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		task.ClientOwners.Add(clientID)
		client.Desired.Add(task.ID)

		switch task.State {
		case InMemory:
			batch.ClientInMemory(clientID, task.ID)
		case Error:
			batch.ClientTaskErred(clientID, task.ID)
		}
	}
	return unknown
}

// ClientReleasesKeys removes clientID's ownership of each named task and
// garbage-collects any task that becomes collectible as a result, cascading
// to that task's dependencies since removing it may in turn make them
// collectible too.
func ClientReleasesKeys(s *Store, batch *notify.Batch, clientID ClientID, keys []string) {
	client, _ := s.Client(clientID)
	worklist := make([]TaskID, 0, len(keys))
	for _, key := range keys {
		task, ok := s.GetTaskByKey(key)
		if !ok {
			continue
		}
		releaseClientOwnership(task, clientID, client)
		worklist = append(worklist, task.ID)
	}
	collectCascade(s, batch, worklist)
}

// releaseClientOwnership removes clientID from task's owners and, if the
// Client record exists, from its Desired set too.
func releaseClientOwnership(task *Task, clientID ClientID, client *Client) {
	task.ClientOwners.Remove(clientID)
	if client != nil {
		client.Desired.Remove(task.ID)
	}
}

// collectCascade removes every collectible task reachable from roots by
// walking dependency edges: removing a task may make its own dependencies
// collectible in turn. A task being removed while InMemory still has
// worker-held copies that are now garbage; each owning worker is told to
// delete its copy before the record disappears from the store.
func collectCascade(s *Store, batch *notify.Batch, roots []TaskID) {
	worklist := append([]TaskID(nil), roots...)
	for len(worklist) > 0 {
		id := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		task, ok := s.GetTask(id)
		if !ok || !task.Collectible() {
			continue
		}
		if task.State == InMemory {
			for _, workerID := range task.WorkerOwners.Sorted() {
				batch.WorkerDelete(workerID, id, task.Key)
			}
		}
		deps := task.Dependencies.Sorted()
		s.RemoveTask(id)
		worklist = append(worklist, deps...)
	}
}

// UnregisterClient releases every task the client desired, as if the
// client had called ClientReleasesKeys for all of them, then removes the
// Client record.
func UnregisterClient(s *Store, batch *notify.Batch, clientID ClientID) {
	client, ok := s.Client(clientID)
	if !ok {
		return
	}
	keys := make([]string, 0, len(client.Desired))
	for taskID := range client.Desired {
		if t, ok := s.GetTask(taskID); ok {
			keys = append(keys, t.Key)
		}
	}
	ClientReleasesKeys(s, batch, clientID, keys)
	s.UnregisterClient(clientID)
}

// UnregisterWorker processes a worker connection ending. Every task the
// worker held is visited:
//
//   - if the task was InMemory and loses its last owner, a LostData event
//     is queued so the scheduler policy can decide to request
//     recomputation (see the worker-loss decision recorded in DESIGN.md).
//     A collectible task is then removed from the Store; any other task
//     stays in the Store as Ready or Waiting depending on UnmetCount, with
//     a TaskReady queued when it is Ready.
//   - if the task was Assigned to this worker (it never got to report a
//     result), it reverts to Ready or Waiting depending on UnmetCount, and
//     is re-announced to the scheduler so it can be reassigned.
func UnregisterWorker(s *Store, batch *notify.Batch, workerID WorkerID) {
	worker, ok := s.UnregisterWorker(workerID)
	if !ok {
		return
	}
	taskIDs := worker.Owns.Sorted()
	for _, taskID := range taskIDs {
		task, ok := s.GetTask(taskID)
		if !ok {
			continue
		}
		switch task.State {
		case InMemory:
			task.WorkerOwners.Remove(workerID)
			if len(task.WorkerOwners) == 0 {
				task.State = Released
				task.DataType = nil
				batch.SchedulerLost(taskID)
				loseDependencyMemory(s, task)
				if task.Collectible() {
					s.RemoveTask(taskID)
				} else {
					// Still wanted: demote in place so a future
					// re-assignment can bring it back to InMemory.
					task.State = recomputeTargetState(task)
					if task.State == Ready {
						batch.SchedulerReady(taskID)
					}
				}
			}
		case Assigned:
			if task.HasAssignedWorker && task.AssignedWorker == workerID {
				task.HasAssignedWorker = false
				task.State = recomputeTargetState(task)
				if task.State == Ready {
					batch.SchedulerReady(taskID)
				}
			}
		}
	}
}

// loseDependencyMemory reverses the bookkeeping resolveDependency performed
// when dep became InMemory: every Waiting or Ready dependent regains one
// unmet dependency, and any dependent that had reached Ready (because dep,
// among others, was in memory) falls back to Waiting. Dependents that are
// Assigned, InMemory or Error are unaffected -- a dependency losing its
// cached copy after a dependent consumed it does not invalidate the
// dependent's own result.
func loseDependencyMemory(s *Store, dep *Task) {
	for _, dependentID := range dep.Dependents.Sorted() {
		dependent, ok := s.GetTask(dependentID)
		if !ok {
			continue
		}
		switch dependent.State {
		case Ready:
			dependent.UnmetCount++
			dependent.State = Waiting
		case Waiting:
			dependent.UnmetCount++
		}
	}
}

// recomputeTargetState returns Ready or Waiting for a task that has just
// lost its worker (either its only in-memory copy, or its in-flight
// assignment) and must be recomputed, based on its current dependencies'
// states.
func recomputeTargetState(task *Task) TaskState {
	if task.UnmetCount == 0 {
		return Ready
	}
	return Waiting
}
