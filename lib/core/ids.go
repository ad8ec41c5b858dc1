// Package core houses the coordinator's entity store: the in-memory
// Task/Worker/Client records and the single Store that owns them.
//
// Cross-references between entities are by dense integer id, never by
// shared pointer, so that task/worker/client graphs cannot form reference
// cycles and so that the Store remains the sole owner of record lifetime.
package core

import "taskcoord/lib/ids"

// TaskID is a coordinator-assigned dense integer identity. Ids are never
// reused within the lifetime of a Store, and each task key maps to exactly
// one id for the life of the Store. It is an alias of ids.TaskID so that
// core and notify can both name the same identity type without importing
// each other.
type TaskID = ids.TaskID

// WorkerID is a coordinator-assigned dense integer identity for a worker
// connection, allocated on registration. Alias of ids.WorkerID; see TaskID.
type WorkerID = ids.WorkerID

// ClientID is a coordinator-assigned dense integer identity for a client
// connection, allocated on client hello. Alias of ids.ClientID; see TaskID.
type ClientID = ids.ClientID

// TaskIDSet is a set of TaskIDs.
type TaskIDSet map[TaskID]struct{}

func NewTaskIDSet(taskIDs ...TaskID) TaskIDSet {
	s := make(TaskIDSet, len(taskIDs))
	for _, id := range taskIDs {
		s[id] = struct{}{}
	}
	return s
}

func (s TaskIDSet) Add(id TaskID)      { s[id] = struct{}{} }
func (s TaskIDSet) Remove(id TaskID)   { delete(s, id) }
func (s TaskIDSet) Contains(id TaskID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the set's members in ascending order. Used wherever a
// reproducible ordering is needed over an otherwise-unordered set, e.g.
// emitting TaskReady notifications in ascending task id.
func (s TaskIDSet) Sorted() []TaskID {
	out := make([]TaskID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sortTaskIDs(out)
	return out
}

func sortTaskIDs(taskIDs []TaskID) {
	// insertion sort: task batches are small, and this avoids pulling in
	// sort.Slice's reflection-based comparator for a uint64 slice.
	for i := 1; i < len(taskIDs); i++ {
		for j := i; j > 0 && taskIDs[j-1] > taskIDs[j]; j-- {
			taskIDs[j-1], taskIDs[j] = taskIDs[j], taskIDs[j-1]
		}
	}
}

// ClientIDSet is a set of ClientIDs.
type ClientIDSet map[ClientID]struct{}

func NewClientIDSet(clientIDs ...ClientID) ClientIDSet {
	s := make(ClientIDSet, len(clientIDs))
	for _, id := range clientIDs {
		s[id] = struct{}{}
	}
	return s
}

func (s ClientIDSet) Add(id ClientID)    { s[id] = struct{}{} }
func (s ClientIDSet) Remove(id ClientID) { delete(s, id) }
func (s ClientIDSet) Contains(id ClientID) bool {
	_, ok := s[id]
	return ok
}

// WorkerIDSet is a set of WorkerIDs.
type WorkerIDSet map[WorkerID]struct{}

func NewWorkerIDSet(workerIDs ...WorkerID) WorkerIDSet {
	s := make(WorkerIDSet, len(workerIDs))
	for _, id := range workerIDs {
		s[id] = struct{}{}
	}
	return s
}

func (s WorkerIDSet) Add(id WorkerID)    { s[id] = struct{}{} }
func (s WorkerIDSet) Remove(id WorkerID) { delete(s, id) }
func (s WorkerIDSet) Contains(id WorkerID) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the set's members in ascending order, for reproducible
// iteration (e.g. emitting DeleteData to every owning worker in a fixed
// order when a task is garbage-collected).
func (s WorkerIDSet) Sorted() []WorkerID {
	out := make([]WorkerID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
