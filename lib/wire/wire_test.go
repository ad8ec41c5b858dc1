package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdateGraphRoundTrip(t *testing.T) {
	actors := true
	original := FromClientMessage{
		Op: OpUpdateGraph,
		UpdateGraph: &UpdateGraphMsg{
			Tasks: []TaskEntry{
				{Key: "a", Spec: ClientTaskSpec{Form: SpecDirect, Direct: DirectTaskSpec{Function: []byte("f")}}},
				{Key: "b", Spec: ClientTaskSpec{Form: SpecSerialized, Serialized: []byte("blob")}},
			},
			Dependencies: map[string][]string{"b": {"a"}},
			Keys:         []string{"b"},
			Priority:     map[string]int32{"a": 3},
			UserPriority: 1,
			Actors:       &actors,
		},
	}

	encoded, err := EncodeFromClientMessage(original)
	require.NoError(t, err)

	decoded, err := DecodeFromClientMessage(encoded)
	require.NoError(t, err)

	require.Equal(t, OpUpdateGraph, decoded.Op)
	require.Equal(t, original.UpdateGraph.Tasks, decoded.UpdateGraph.Tasks)
	require.Equal(t, original.UpdateGraph.Dependencies, decoded.UpdateGraph.Dependencies)
	require.Equal(t, original.UpdateGraph.Keys, decoded.UpdateGraph.Keys)
	require.Equal(t, *original.UpdateGraph.Actors, *decoded.UpdateGraph.Actors)
}

func TestClientDesiresKeysRoundTrip(t *testing.T) {
	original := FromClientMessage{
		Op: OpClientDesiresKeys,
		ClientDesiresKeys: &ClientDesiresKeysMsg{
			Keys:   []string{"x", "y"},
			Client: "tcp://client-1",
		},
	}
	encoded, err := EncodeFromClientMessage(original)
	require.NoError(t, err)
	decoded, err := DecodeFromClientMessage(encoded)
	require.NoError(t, err)
	require.Equal(t, original.ClientDesiresKeys, decoded.ClientDesiresKeys)
}

func TestHeartbeatClientRoundTrip(t *testing.T) {
	original := FromClientMessage{Op: OpHeartbeatClient}
	encoded, err := EncodeFromClientMessage(original)
	require.NoError(t, err)
	decoded, err := DecodeFromClientMessage(encoded)
	require.NoError(t, err)
	require.Equal(t, OpHeartbeatClient, decoded.Op)
}

func TestToClientMessageRoundTrip(t *testing.T) {
	original := ToClientMessage{
		Op:          OpKeyInMemory,
		KeyInMemory: &KeyInMemoryMsg{Key: "c", Type: []byte("int")},
	}
	encoded, err := EncodeToClientMessage(original)
	require.NoError(t, err)
	decoded, err := DecodeToClientMessage(encoded)
	require.NoError(t, err)
	require.Equal(t, original, decoded)

	erred := ToClientMessage{
		Op:        OpTaskErred,
		TaskErred: &ClientTaskErredMsg{Key: "b", Exception: []byte("boom"), Traceback: []byte("tb")},
	}
	encoded, err = EncodeToClientMessage(erred)
	require.NoError(t, err)
	decoded, err = DecodeToClientMessage(encoded)
	require.NoError(t, err)
	require.Equal(t, erred, decoded)
}

func TestFromWorkerMessageRoundTrip(t *testing.T) {
	finished := FromWorkerMessage{
		Op:           OpTaskFinished,
		TaskFinished: &TaskFinishedMsg{Key: "a", Status: "OK", Type: []byte("int")},
	}
	encoded, err := EncodeFromWorkerMessage(finished)
	require.NoError(t, err)
	decoded, err := DecodeFromWorkerMessage(encoded)
	require.NoError(t, err)
	require.Equal(t, finished, decoded)

	keepAlive := FromWorkerMessage{Op: OpKeepAlive}
	encoded, err = EncodeFromWorkerMessage(keepAlive)
	require.NoError(t, err)
	decoded, err = DecodeFromWorkerMessage(encoded)
	require.NoError(t, err)
	require.Equal(t, OpKeepAlive, decoded.Op)
}

func TestToWorkerMessageRoundTrip(t *testing.T) {
	compute := ToWorkerMessage{
		Op: OpComputeTask,
		ComputeTask: &ComputeTaskMsg{
			Key:           "a",
			Spec:          ClientTaskSpec{Form: SpecSerialized, Serialized: []byte("blob")},
			Dependencies:  []string{"x", "y"},
			UserPriority:  1,
			SchedPriority: 2,
			Actors:        true,
		},
	}
	encoded, err := EncodeToWorkerMessage(compute)
	require.NoError(t, err)
	decoded, err := DecodeToWorkerMessage(encoded)
	require.NoError(t, err)
	require.Equal(t, compute.ComputeTask, decoded.ComputeTask)

	del := ToWorkerMessage{Op: OpDeleteData, DeleteData: &DeleteDataMsg{Keys: []string{"a"}, Report: false}}
	encoded, err = EncodeToWorkerMessage(del)
	require.NoError(t, err)
	decoded, err = DecodeToWorkerMessage(encoded)
	require.NoError(t, err)
	require.Equal(t, del.DeleteData, decoded.DeleteData)
}

func TestDecodeFromWorkerMessageRejectsUnknownStatus(t *testing.T) {
	encoded, err := EncodeFromWorkerMessage(FromWorkerMessage{
		Op:           OpTaskFinished,
		TaskFinished: &TaskFinishedMsg{Key: "a", Status: "huh", Type: []byte("int")},
	})
	require.NoError(t, err)
	_, err = DecodeFromWorkerMessage(encoded)
	require.Error(t, err)

	encoded, err = EncodeFromWorkerMessage(FromWorkerMessage{
		Op:        OpTaskErred,
		TaskErred: &WorkerTaskErredMsg{Key: "b", Status: "OK"},
	})
	require.NoError(t, err)
	_, err = DecodeFromWorkerMessage(encoded)
	require.Error(t, err)
}

func TestCodecPreservesFramesByteForByte(t *testing.T) {
	var buf bytes.Buffer
	codec := NewCodec(&buf)

	msg, err := EncodeFromWorkerMessage(FromWorkerMessage{
		Op: OpTaskErred,
		TaskErred: &WorkerTaskErredMsg{
			Key: "b", Status: "error",
			Exception: []byte("boom"), Traceback: []byte("tb"),
		},
	})
	require.NoError(t, err)

	packet := Packet{
		Message: msg,
		Frames:  Frames{[]byte{0x00, 0x01}, []byte("payload"), {}},
	}
	require.NoError(t, codec.WritePacket(packet))

	got, err := codec.ReadPacket()
	require.NoError(t, err)
	require.Equal(t, packet.Message, got.Message)
	require.Equal(t, packet.Frames, got.Frames)
}
