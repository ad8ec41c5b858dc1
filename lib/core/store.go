package core

import (
	cerrors "taskcoord/lib/errors"
)

// Store is the coordinator's sole shared mutable resource: it houses every
// Task, Worker, and Client record, keyed by id, and allocates new ids.
//
// Store is not safe for concurrent use. It is touched only from the
// coordinator's single event loop goroutine; there is no internal locking.
type Store struct {
	tasksByID  map[TaskID]*Task
	tasksByKey map[string]*Task
	workers    map[WorkerID]*Worker
	clients    map[ClientID]*Client

	nextTaskID   TaskID
	nextWorkerID WorkerID
	nextClientID ClientID
}

func NewStore() *Store {
	return &Store{
		tasksByID:  make(map[TaskID]*Task),
		tasksByKey: make(map[string]*Task),
		workers:    make(map[WorkerID]*Worker),
		clients:    make(map[ClientID]*Client),
	}
}

// NewTaskID allocates the next dense task id. Ids are never reused.
func (s *Store) NewTaskID() TaskID {
	id := s.nextTaskID
	s.nextTaskID++
	return id
}

// NewWorkerID allocates the next dense worker id.
func (s *Store) NewWorkerID() WorkerID {
	id := s.nextWorkerID
	s.nextWorkerID++
	return id
}

// NewClientID allocates the next dense client id.
func (s *Store) NewClientID() ClientID {
	id := s.nextClientID
	s.nextClientID++
	return id
}

func (s *Store) GetTask(id TaskID) (*Task, bool) {
	t, ok := s.tasksByID[id]
	return t, ok
}

func (s *Store) GetTaskByKey(key string) (*Task, bool) {
	t, ok := s.tasksByKey[key]
	return t, ok
}

// MustGetTask panics if id is not present. It is for callers that have
// already established (by invariant) that the task must exist, e.g. while
// walking a Dependents set populated from live tasks.
func (s *Store) MustGetTask(id TaskID) *Task {
	t, ok := s.tasksByID[id]
	if !ok {
		panic("core: task id invariant violated: missing task")
	}
	return t
}

func (s *Store) Worker(id WorkerID) (*Worker, bool) {
	w, ok := s.workers[id]
	return w, ok
}

func (s *Store) Client(id ClientID) (*Client, bool) {
	c, ok := s.clients[id]
	return c, ok
}

// Workers returns every currently-registered worker. Order is unspecified.
func (s *Store) Workers() []*Worker {
	out := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	return out
}

// Clients returns every currently-registered client. Order is unspecified.
func (s *Store) Clients() []*Client {
	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

func (s *Store) RegisterWorker(w *Worker) {
	s.workers[w.ID] = w
}

// UnregisterWorker removes the worker record. The caller (the task state
// machine) is responsible for first visiting w.Owns to update the affected
// tasks; UnregisterWorker itself only removes the Worker record.
func (s *Store) UnregisterWorker(id WorkerID) (*Worker, bool) {
	w, ok := s.workers[id]
	if ok {
		delete(s.workers, id)
	}
	return w, ok
}

func (s *Store) RegisterClient(c *Client) {
	s.clients[c.ID] = c
}

// UnregisterClient removes the client record. The caller is responsible for
// first releasing the client's ownership of its desired tasks.
func (s *Store) UnregisterClient(id ClientID) (*Client, bool) {
	c, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
	}
	return c, ok
}

// NewTaskInput describes one task to add via AddTasks.
type NewTaskInput struct {
	Key            string
	Spec           TaskSpec
	DependencyKeys []string
	UserPriority   int32
	Actors         bool

	SchedulerPriority    int32
	HasSchedulerPriority bool
}

// AddTasks validates and ingests a batch of new task definitions
// atomically: if any task in the batch names a dependency that is neither
// already in the Store nor present elsewhere in the batch, the whole batch
// is rejected with an error wrapping errors.ErrUnknownDependency. A
// duplicate key within the batch is rejected with an error wrapping
// errors.ErrDuplicateKey. Neither case adds a task to the Store, though an
// unknown-dependency rejection has already consumed task ids for the
// batch's new keys (ids are allocated before dependencies are checked).
//
// Re-submission of a pre-existing key is idempotent: it is not an error,
// and the pre-existing task is returned in place of a new one, unmodified.
// AddTasks reports which input indices resulted in a freshly created task
// via the returned created slice (parallel to batch), so the caller can
// topologically order TaskNew emission without it re-deriving duplicate
// status.
func (s *Store) AddTasks(batch []NewTaskInput) (tasks []*Task, created []bool, err error) {
	seenKeys := make(map[string]int, len(batch))
	for i, in := range batch {
		if _, dup := seenKeys[in.Key]; dup {
			return nil, nil, cerrors.NewTagged(cerrors.ErrDuplicateKey, in.Key)
		}
		if _, exists := s.tasksByKey[in.Key]; !exists {
			seenKeys[in.Key] = i
		} else {
			seenKeys[in.Key] = -1 // pre-existing; not a fresh batch slot
		}
	}

	// Pre-allocate ids, in batch order, for every key not already present,
	// so that forward- and backward-referencing dependencies within the
	// same batch both resolve below.
	idsByKey := make(map[string]TaskID, len(batch))
	for _, in := range batch {
		if idx, ok := seenKeys[in.Key]; ok && idx >= 0 {
			idsByKey[in.Key] = s.NewTaskID()
		}
	}

	resolveDep := func(depKey string) (TaskID, bool) {
		if t, ok := s.tasksByKey[depKey]; ok {
			return t.ID, true
		}
		if id, ok := idsByKey[depKey]; ok {
			return id, true
		}
		return 0, false
	}

	// Validate all dependencies resolve before mutating anything.
	for _, in := range batch {
		for _, depKey := range in.DependencyKeys {
			if _, ok := resolveDep(depKey); !ok {
				return nil, nil, cerrors.NewTagged(cerrors.ErrUnknownDependency, depKey)
			}
		}
	}

	tasks = make([]*Task, len(batch))
	created = make([]bool, len(batch))

	for i, in := range batch {
		if idx, ok := seenKeys[in.Key]; !ok || idx < 0 {
			tasks[i] = s.tasksByKey[in.Key]
			created[i] = false
			continue
		}

		id := idsByKey[in.Key]
		deps := NewTaskIDSet()
		unmet := 0
		for _, depKey := range in.DependencyKeys {
			depID, _ := resolveDep(depKey)
			deps.Add(depID)
			if depTask, ok := s.tasksByID[depID]; ok {
				if depTask.State != InMemory {
					unmet++
				}
			} else {
				// Dependency is a sibling later in this same batch: it
				// cannot possibly be InMemory yet.
				unmet++
			}
		}

		t := NewTask(id, in.Key, in.Spec, deps, unmet)
		t.UserPriority = in.UserPriority
		t.Actors = in.Actors
		if in.HasSchedulerPriority {
			t.SchedulerPriority = in.SchedulerPriority
		}

		s.tasksByID[id] = t
		s.tasksByKey[in.Key] = t
		tasks[i] = t
		created[i] = true
	}

	// Wire Dependents now that every task in the batch exists.
	for i := range batch {
		if !created[i] {
			continue
		}
		t := tasks[i]
		for depID := range t.Dependencies {
			dep := s.tasksByID[depID]
			dep.Dependents.Add(t.ID)
		}
	}

	return tasks, created, nil
}

// RemoveTask deletes a task record and unwires it from its dependencies'
// Dependents sets. The caller is responsible for ensuring the task is
// actually collectible (see Task.Collectible); RemoveTask itself performs
// no eligibility check.
func (s *Store) RemoveTask(id TaskID) {
	t, ok := s.tasksByID[id]
	if !ok {
		return
	}
	for depID := range t.Dependencies {
		if dep, ok := s.tasksByID[depID]; ok {
			dep.Dependents.Remove(id)
		}
	}
	delete(s.tasksByID, id)
	delete(s.tasksByKey, t.Key)
}
