package wire

const OpRegisterWorker Op = "register-worker"

// Known worker-reported status tokens. Any other value on a TaskFinished or
// TaskErred message is a protocol violation and tears down the worker
// connection.
const (
	StatusOK    = "OK"
	StatusError = "error"
)

func knownTaskFinishedStatus(status string) bool {
	return status == StatusOK
}

func knownTaskErredStatus(status string) bool {
	return status == StatusError
}

// RegisterWorkerMsg is the registration frame a worker sends on connect.
type RegisterWorkerMsg struct {
	ListenAddress string `msgpack:"listen_address"`
	NCPUs         uint32 `msgpack:"ncpus"`
}

// HeartbeatResponse is the coordinator's reply to RegisterWorkerMsg.
// WorkerPlugins is always empty: no plugin negotiation protocol exists to
// populate it.
type HeartbeatResponse struct {
	Status            string   `msgpack:"status"`
	Time              int64    `msgpack:"time"`
	HeartbeatInterval int64    `msgpack:"heartbeat_interval"`
	WorkerPlugins     [][]byte `msgpack:"worker-plugins"`
}

type TaskFinishedMsg struct {
	Key    string `msgpack:"key"`
	Status string `msgpack:"status"`
	Type   []byte `msgpack:"type"`
}

type WorkerTaskErredMsg struct {
	Key       string `msgpack:"key"`
	Status    string `msgpack:"status"`
	Exception []byte `msgpack:"exception"`
	Traceback []byte `msgpack:"traceback"`

	// Frames carries any additional binary frames attached to this error
	// report; a FrameDescriptor in the first frame, when present, maps the
	// remaining frames to their owning message index within the batch.
	Frames Frames `msgpack:"-"`
}

// FromWorkerMessage is a decoded inbound worker message, tagged by Op.
type FromWorkerMessage struct {
	Op           Op
	TaskFinished *TaskFinishedMsg
	TaskErred    *WorkerTaskErredMsg
}

type ComputeTaskMsg struct {
	Key          string         `msgpack:"key"`
	Spec         ClientTaskSpec `msgpack:"spec"`
	Dependencies []string       `msgpack:"who_has"`
	UserPriority int32          `msgpack:"priority"`
	SchedPriority int32         `msgpack:"scheduler_priority"`
	Actors       bool           `msgpack:"actors"`

	// Frames, when non-empty, is written by the worker session as the
	// packet's side-channel frames after the message. The engine's
	// compute-task path does not populate it.
	Frames Frames `msgpack:"-"`
}

type DeleteDataMsg struct {
	Keys   []string `msgpack:"keys"`
	Report bool     `msgpack:"report"`
}

type StealRequestMsg struct {
	Key string `msgpack:"key"`
}

// ToWorkerMessage is an outbound message to a worker, tagged by Op.
type ToWorkerMessage struct {
	Op           Op
	ComputeTask  *ComputeTaskMsg
	DeleteData   *DeleteDataMsg
	StealRequest *StealRequestMsg
}
