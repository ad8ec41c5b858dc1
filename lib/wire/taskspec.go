package wire

import (
	"github.com/vmihailenco/msgpack/v5"

	cerrors "taskcoord/lib/errors"
)

// DirectTaskSpec is the {function?, args?, kwargs?} wire shape. At least one
// field must be populated; an all-absent DirectTaskSpec is a decode error.
type DirectTaskSpec struct {
	Function []byte `msgpack:"function,omitempty"`
	Args     []byte `msgpack:"args,omitempty"`
	Kwargs   []byte `msgpack:"kwargs,omitempty"`
}

func (d DirectTaskSpec) empty() bool {
	return d.Function == nil && d.Args == nil && d.Kwargs == nil
}

// ClientTaskSpec is the union of the two wire forms a task specification
// may take: a direct triple of opaque blobs, or a single opaque serialized
// blob. Exactly one of Direct/Serialized is meaningful, selected by Form.
type ClientTaskSpec struct {
	Form     SpecForm
	Direct   DirectTaskSpec
	Serialized []byte
}

type SpecForm int8

const (
	SpecDirect SpecForm = iota
	SpecSerialized
)

// MarshalMsgpack encodes whichever form is populated; it never emits both.
func (s ClientTaskSpec) MarshalMsgpack() ([]byte, error) {
	switch s.Form {
	case SpecDirect:
		return msgpack.Marshal(s.Direct)
	default:
		return msgpack.Marshal(s.Serialized)
	}
}

// UnmarshalMsgpack accepts either wire shape: if the payload decodes as a
// map with at least one of function/args/kwargs, it is Direct; otherwise it
// is treated as an opaque Serialized blob, matching the untagged union rsds
// uses for ClientTaskSpec.
func (s *ClientTaskSpec) UnmarshalMsgpack(data []byte) error {
	var direct DirectTaskSpec
	if err := msgpack.Unmarshal(data, &direct); err == nil && !direct.empty() {
		s.Form = SpecDirect
		s.Direct = direct
		return nil
	}
	var blob []byte
	if err := msgpack.Unmarshal(data, &blob); err != nil {
		return cerrors.NewTagged(cerrors.ErrProtocol, "task spec: neither direct nor serialized form decoded")
	}
	s.Form = SpecSerialized
	s.Serialized = blob
	return nil
}
