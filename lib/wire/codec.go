package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	cerrors "taskcoord/lib/errors"
)

type envelope struct {
	Op   Op                `msgpack:"op"`
	Body msgpack.RawMessage `msgpack:"body"`
}

func marshalEnvelope(op Op, payload interface{}) ([]byte, error) {
	body, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(envelope{Op: op, Body: body})
}

// PeekOp decodes only the "op" field of an envelope, without touching its
// body. Used by the session dispatcher to decide whether a freshly
// accepted connection is a client or a worker before committing to a
// payload type.
func PeekOp(data []byte) (Op, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return "", cerrors.NewTagged(cerrors.ErrProtocol, "malformed envelope: "+err.Error())
	}
	return env.Op, nil
}

// EncodeRegisterWorkerMsg and DecodeRegisterWorkerMsg handle the one
// message whose envelope is read before a WorkerSession exists to route
// through DecodeFromWorkerMessage.
func EncodeRegisterWorkerMsg(msg RegisterWorkerMsg) ([]byte, error) {
	return marshalEnvelope(OpRegisterWorker, msg)
}

func DecodeRegisterWorkerMsg(data []byte) (RegisterWorkerMsg, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return RegisterWorkerMsg{}, cerrors.NewTagged(cerrors.ErrProtocol, "malformed envelope: "+err.Error())
	}
	var msg RegisterWorkerMsg
	if err := msgpack.Unmarshal(env.Body, &msg); err != nil {
		return RegisterWorkerMsg{}, cerrors.NewTagged(cerrors.ErrProtocol, "register-worker: "+err.Error())
	}
	return msg, nil
}

func EncodeHeartbeatResponse(msg HeartbeatResponse) ([]byte, error) {
	return msgpack.Marshal(msg)
}

func DecodeHeartbeatResponse(data []byte) (HeartbeatResponse, error) {
	var msg HeartbeatResponse
	err := msgpack.Unmarshal(data, &msg)
	return msg, err
}

// EncodeFromClientMessage serializes the payload selected by msg.Op.
func EncodeFromClientMessage(msg FromClientMessage) ([]byte, error) {
	switch msg.Op {
	case OpHeartbeatClient, OpCloseClient, OpCloseStream:
		return marshalEnvelope(msg.Op, struct{}{})
	case OpUpdateGraph:
		return marshalEnvelope(msg.Op, msg.UpdateGraph)
	case OpClientReleasesKeys:
		return marshalEnvelope(msg.Op, msg.ClientReleasesKeys)
	case OpClientDesiresKeys:
		return marshalEnvelope(msg.Op, msg.ClientDesiresKeys)
	default:
		return nil, cerrors.NewTagged(cerrors.ErrProtocol, fmt.Sprintf("unknown client op %q", msg.Op))
	}
}

// DecodeFromClientMessage parses an op-tagged envelope into the matching
// FromClientMessage payload.
func DecodeFromClientMessage(data []byte) (FromClientMessage, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return FromClientMessage{}, cerrors.NewTagged(cerrors.ErrProtocol, "malformed envelope: "+err.Error())
	}
	msg := FromClientMessage{Op: env.Op}
	switch env.Op {
	case OpHeartbeatClient, OpCloseClient, OpCloseStream:
	case OpUpdateGraph:
		msg.UpdateGraph = &UpdateGraphMsg{}
		if err := msgpack.Unmarshal(env.Body, msg.UpdateGraph); err != nil {
			return FromClientMessage{}, cerrors.NewTagged(cerrors.ErrProtocol, "update-graph: "+err.Error())
		}
	case OpClientReleasesKeys:
		msg.ClientReleasesKeys = &ClientReleasesKeysMsg{}
		if err := msgpack.Unmarshal(env.Body, msg.ClientReleasesKeys); err != nil {
			return FromClientMessage{}, cerrors.NewTagged(cerrors.ErrProtocol, "client-releases-keys: "+err.Error())
		}
	case OpClientDesiresKeys:
		msg.ClientDesiresKeys = &ClientDesiresKeysMsg{}
		if err := msgpack.Unmarshal(env.Body, msg.ClientDesiresKeys); err != nil {
			return FromClientMessage{}, cerrors.NewTagged(cerrors.ErrProtocol, "client-desires-keys: "+err.Error())
		}
	default:
		return FromClientMessage{}, cerrors.NewTagged(cerrors.ErrProtocol, fmt.Sprintf("unknown client op %q", env.Op))
	}
	return msg, nil
}

func EncodeToClientMessage(msg ToClientMessage) ([]byte, error) {
	switch msg.Op {
	case OpKeyInMemory:
		return marshalEnvelope(msg.Op, msg.KeyInMemory)
	case OpTaskErred:
		return marshalEnvelope(msg.Op, msg.TaskErred)
	default:
		return nil, cerrors.NewTagged(cerrors.ErrProtocol, fmt.Sprintf("unknown to-client op %q", msg.Op))
	}
}

func DecodeToClientMessage(data []byte) (ToClientMessage, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return ToClientMessage{}, cerrors.NewTagged(cerrors.ErrProtocol, "malformed envelope: "+err.Error())
	}
	msg := ToClientMessage{Op: env.Op}
	switch env.Op {
	case OpKeyInMemory:
		msg.KeyInMemory = &KeyInMemoryMsg{}
		if err := msgpack.Unmarshal(env.Body, msg.KeyInMemory); err != nil {
			return ToClientMessage{}, err
		}
	case OpTaskErred:
		msg.TaskErred = &ClientTaskErredMsg{}
		if err := msgpack.Unmarshal(env.Body, msg.TaskErred); err != nil {
			return ToClientMessage{}, err
		}
	default:
		return ToClientMessage{}, cerrors.NewTagged(cerrors.ErrProtocol, fmt.Sprintf("unknown to-client op %q", env.Op))
	}
	return msg, nil
}

func EncodeFromWorkerMessage(msg FromWorkerMessage) ([]byte, error) {
	switch msg.Op {
	case OpKeepAlive:
		return marshalEnvelope(msg.Op, struct{}{})
	case OpTaskFinished:
		return marshalEnvelope(msg.Op, msg.TaskFinished)
	case OpTaskErred:
		return marshalEnvelope(msg.Op, msg.TaskErred)
	default:
		return nil, cerrors.NewTagged(cerrors.ErrProtocol, fmt.Sprintf("unknown worker op %q", msg.Op))
	}
}

func DecodeFromWorkerMessage(data []byte) (FromWorkerMessage, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return FromWorkerMessage{}, cerrors.NewTagged(cerrors.ErrProtocol, "malformed envelope: "+err.Error())
	}
	msg := FromWorkerMessage{Op: env.Op}
	switch env.Op {
	case OpKeepAlive:
	case OpTaskFinished:
		msg.TaskFinished = &TaskFinishedMsg{}
		if err := msgpack.Unmarshal(env.Body, msg.TaskFinished); err != nil {
			return FromWorkerMessage{}, err
		}
		if !knownTaskFinishedStatus(msg.TaskFinished.Status) {
			return FromWorkerMessage{}, cerrors.NewTagged(cerrors.ErrProtocol, fmt.Sprintf("task-finished: unknown status %q", msg.TaskFinished.Status))
		}
	case OpTaskErred:
		msg.TaskErred = &WorkerTaskErredMsg{}
		if err := msgpack.Unmarshal(env.Body, msg.TaskErred); err != nil {
			return FromWorkerMessage{}, err
		}
		if !knownTaskErredStatus(msg.TaskErred.Status) {
			return FromWorkerMessage{}, cerrors.NewTagged(cerrors.ErrProtocol, fmt.Sprintf("task-erred: unknown status %q", msg.TaskErred.Status))
		}
	default:
		return FromWorkerMessage{}, cerrors.NewTagged(cerrors.ErrProtocol, fmt.Sprintf("unknown worker op %q", env.Op))
	}
	return msg, nil
}

func EncodeToWorkerMessage(msg ToWorkerMessage) ([]byte, error) {
	switch msg.Op {
	case OpComputeTask:
		return marshalEnvelope(msg.Op, msg.ComputeTask)
	case OpDeleteData:
		return marshalEnvelope(msg.Op, msg.DeleteData)
	case OpStealRequest:
		return marshalEnvelope(msg.Op, msg.StealRequest)
	default:
		return nil, cerrors.NewTagged(cerrors.ErrProtocol, fmt.Sprintf("unknown to-worker op %q", msg.Op))
	}
}

func DecodeToWorkerMessage(data []byte) (ToWorkerMessage, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return ToWorkerMessage{}, cerrors.NewTagged(cerrors.ErrProtocol, "malformed envelope: "+err.Error())
	}
	msg := ToWorkerMessage{Op: env.Op}
	switch env.Op {
	case OpComputeTask:
		msg.ComputeTask = &ComputeTaskMsg{}
		if err := msgpack.Unmarshal(env.Body, msg.ComputeTask); err != nil {
			return ToWorkerMessage{}, err
		}
	case OpDeleteData:
		msg.DeleteData = &DeleteDataMsg{}
		if err := msgpack.Unmarshal(env.Body, msg.DeleteData); err != nil {
			return ToWorkerMessage{}, err
		}
	case OpStealRequest:
		msg.StealRequest = &StealRequestMsg{}
		if err := msgpack.Unmarshal(env.Body, msg.StealRequest); err != nil {
			return ToWorkerMessage{}, err
		}
	default:
		return ToWorkerMessage{}, cerrors.NewTagged(cerrors.ErrProtocol, fmt.Sprintf("unknown to-worker op %q", env.Op))
	}
	return msg, nil
}

// Packet bundles one encoded message with zero or more side-channel frames
// in a single transport envelope.
type Packet struct {
	Message []byte
	Frames  Frames
}

const maxFrameLen = 512 * 1024 * 1024

// Codec reads and writes length-prefixed frames over a stream: each frame
// is a 4-byte big-endian length prefix followed by that many bytes. A
// Packet is written as a frame count, then the message frame, then each
// side-channel frame in turn.
type Codec struct {
	rw io.ReadWriter
}

func NewCodec(rw io.ReadWriter) *Codec {
	return &Codec{rw: rw}
}

func (c *Codec) writeFrame(b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := c.rw.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := c.rw.Write(b)
	return err
}

func (c *Codec) readFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.rw, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return nil, cerrors.NewTagged(cerrors.ErrProtocol, "frame exceeds maximum length")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.rw, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WritePacket writes one Packet as (count, message, frames...).
func (c *Codec) WritePacket(p Packet) error {
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(p.Frames)))
	if _, err := c.rw.Write(countBuf[:]); err != nil {
		return err
	}
	if err := c.writeFrame(p.Message); err != nil {
		return err
	}
	for _, f := range p.Frames {
		if err := c.writeFrame(f); err != nil {
			return err
		}
	}
	return nil
}

// ReadPacket reads one Packet written by WritePacket.
func (c *Codec) ReadPacket() (Packet, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(c.rw, countBuf[:]); err != nil {
		return Packet{}, err
	}
	n := binary.BigEndian.Uint32(countBuf[:])
	msg, err := c.readFrame()
	if err != nil {
		return Packet{}, err
	}
	frames := make(Frames, n)
	for i := range frames {
		f, err := c.readFrame()
		if err != nil {
			return Packet{}, err
		}
		frames[i] = f
	}
	return Packet{Message: msg, Frames: frames}, nil
}
