// Package wire implements the binary message taxonomy exchanged with
// clients and workers: client update/notification messages, worker
// registration/result messages, and the length-prefixed codec that frames
// them on the transport. Messages are encoded with msgpack and discriminated
// by a kebab-case "op" field, mirroring the rsds wire format this
// coordinator must stay compatible with.
package wire

// Frames is a side-channel payload bag carried alongside a message on the
// same transport envelope. The coordinator never parses frame contents; it
// stores and re-emits them verbatim.
type Frames [][]byte

// FrameDescriptor maps a frame's index within Frames to the 0-based index
// of the message, within the batch it arrived with, that the frame belongs
// to. It is itself carried as the first frame when present; decoding it is
// the caller's responsibility, since only the UpdateGraph and worker-error
// paths use it.
type FrameDescriptor []int

// SplitByDescriptor groups frames by owning message index according to a
// decoded FrameDescriptor. Frames with no descriptor entry (len(desc) <
// len(frames)) are put in the group of message index 0, mirroring rsds's
// tolerance for a missing or short descriptor.
func SplitByDescriptor(frames Frames, desc FrameDescriptor) map[int]Frames {
	out := make(map[int]Frames)
	for i, f := range frames {
		owner := 0
		if i < len(desc) {
			owner = desc[i]
		}
		out[owner] = append(out[owner], f)
	}
	return out
}
