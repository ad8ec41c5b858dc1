package core

// TaskState is the lifecycle stage of a Task. Released is the implicit
// terminal of garbage collection: it is never transmitted to a peer, and a
// Released task is removed from the Store rather than lingering in this
// state.
type TaskState int8

const (
	Waiting TaskState = iota
	Ready
	Assigned
	InMemory
	Error
	Released
)

func (s TaskState) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Ready:
		return "ready"
	case Assigned:
		return "assigned"
	case InMemory:
		return "in-memory"
	case Error:
		return "error"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// SpecForm distinguishes the two wire shapes a task specification may take.
// The coordinator treats both as opaque, but remembers which form was
// submitted so it can be reproduced byte-for-byte in a ComputeTask message.
type SpecForm int8

const (
	SpecDirect SpecForm = iota
	SpecSerialized
)

// TaskSpec is the opaque description of how to compute a task. Exactly one
// of the two shapes below is populated, per Form.
type TaskSpec struct {
	Form SpecForm

	// Populated when Form == SpecDirect. At least one of the three must be
	// non-nil; this is enforced by the wire decoder, not here.
	Function []byte
	Args     []byte
	Kwargs   []byte

	// Populated when Form == SpecSerialized.
	Blob []byte
}

// ErrorInfo is the opaque failure payload attached to a task in Error state.
type ErrorInfo struct {
	Exception []byte
	Traceback []byte
	Frames    [][]byte

	// CauseTaskID names the task whose own failure produced this ErrorInfo
	// by propagation through a dependency edge. HasCause is false for the
	// task that failed directly at a worker.
	CauseTaskID TaskID
	HasCause    bool
}

// Task is the coordinator's record of one node in a client's task graph.
// Tasks are owned exclusively by a Store; all references to other tasks,
// workers, or clients are by id, resolved through the Store.
type Task struct {
	ID  TaskID
	Key string

	Spec TaskSpec

	// Dependencies and Dependents are maintained as a derived invariant:
	// d is in t.Dependencies iff t is in d.Dependents.
	Dependencies TaskIDSet
	Dependents   TaskIDSet

	// UnmetCount is |{d in Dependencies : d is not InMemory}|.
	UnmetCount int

	UserPriority      int32
	SchedulerPriority int32

	// Actors is forwarded to the scheduler and to workers, never
	// interpreted by the coordinator.
	Actors bool

	ClientOwners ClientIDSet
	WorkerOwners WorkerIDSet

	AssignedWorker    WorkerID
	HasAssignedWorker bool

	State TaskState

	// DataType is the opaque type-tag descriptor reported by a worker on
	// TaskFinished, present when State == InMemory.
	DataType []byte

	// ErrInfo is present when State == Error.
	ErrInfo *ErrorInfo
}

// NewTask constructs a Task in its initial state given a resolved
// dependency set. The caller is responsible for computing UnmetCount from
// the current state of each dependency and for wiring Dependents on the
// dependency tasks; see Store.AddTasks.
func NewTask(id TaskID, key string, spec TaskSpec, dependencies TaskIDSet, unmetCount int) *Task {
	state := Waiting
	if unmetCount == 0 {
		state = Ready
	}
	return &Task{
		ID:           id,
		Key:          key,
		Spec:         spec,
		Dependencies: dependencies,
		Dependents:   NewTaskIDSet(),
		UnmetCount:   unmetCount,
		ClientOwners: NewClientIDSet(),
		WorkerOwners: NewWorkerIDSet(),
		State:        state,
	}
}

// Collectible reports whether the task is eligible for garbage removal: it
// has no client interested in its result and nothing depends on it, and it
// is not mid-flight in a way that would orphan a worker assignment.
func (t *Task) Collectible() bool {
	if len(t.ClientOwners) != 0 || len(t.Dependents) != 0 {
		return false
	}
	return t.State != Assigned
}
