package wire

// Op is the kebab-case wire discriminator carried in every message's "op"
// field.
type Op string

const (
	OpHeartbeatClient    Op = "heartbeat-client"
	OpUpdateGraph        Op = "update-graph"
	OpClientReleasesKeys Op = "client-releases-keys"
	OpClientDesiresKeys  Op = "client-desires-keys"
	OpCloseClient        Op = "close-client"
	OpCloseStream        Op = "close-stream"

	OpKeyInMemory Op = "key-in-memory"
	OpTaskErred   Op = "task-erred"

	OpTaskFinished Op = "task-finished"
	OpKeepAlive    Op = "keep-alive"

	OpComputeTask   Op = "compute-task"
	OpDeleteData    Op = "delete-data"
	OpStealRequest  Op = "steal-request"
)

// TaskEntry is one (key, spec) pair from an UpdateGraph batch. rsds encodes
// the tasks map as an ordered vector of pairs (tuple_vec_map) rather than a
// msgpack map, so that submission order survives the wire; we keep the same
// shape.
type TaskEntry struct {
	Key  string          `msgpack:"key"`
	Spec ClientTaskSpec  `msgpack:"spec"`
}

// UpdateGraphMsg is a client's request to add a task graph to the
// coordinator.
type UpdateGraphMsg struct {
	Tasks        []TaskEntry         `msgpack:"tasks"`
	Dependencies map[string][]string `msgpack:"dependencies"`
	Keys         []string            `msgpack:"keys"`
	Priority     map[string]int32    `msgpack:"priority,omitempty"`
	UserPriority int32               `msgpack:"user_priority,omitempty"`
	Actors       *bool               `msgpack:"actors,omitempty"`

	// Frames is populated by the codec from the transport envelope's
	// side-channel frames, not from the msgpack body itself.
	Frames Frames `msgpack:"-"`
}

type ClientReleasesKeysMsg struct {
	Keys   []string `msgpack:"keys"`
	Client string   `msgpack:"client"`
}

type ClientDesiresKeysMsg struct {
	Keys   []string `msgpack:"keys"`
	Client string   `msgpack:"client"`
}

// FromClientMessage is a decoded inbound client message, tagged by Op.
// Exactly one of the payload fields is meaningful, selected by Op.
type FromClientMessage struct {
	Op                  Op
	UpdateGraph         *UpdateGraphMsg
	ClientReleasesKeys  *ClientReleasesKeysMsg
	ClientDesiresKeys   *ClientDesiresKeysMsg
}

type KeyInMemoryMsg struct {
	Key  string `msgpack:"key"`
	Type []byte `msgpack:"type"`
}

type ClientTaskErredMsg struct {
	Key       string `msgpack:"key"`
	Exception []byte `msgpack:"exception"`
	Traceback []byte `msgpack:"traceback"`
}

// ToClientMessage is an outbound message to a client, tagged by Op.
type ToClientMessage struct {
	Op             Op
	KeyInMemory    *KeyInMemoryMsg
	TaskErred      *ClientTaskErredMsg
}
