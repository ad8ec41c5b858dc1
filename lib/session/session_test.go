package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskcoord/lib/core"
	"taskcoord/lib/slog"
	"taskcoord/lib/wire"
)

// pipeConn adapts a net.Pipe() half into a DuplexConn for tests; CloseWrite
// is a no-op since in-memory pipes have no half-close.
type pipeConn struct {
	net.Conn
}

func (p pipeConn) CloseWrite() error { return nil }

func newPipe() (DuplexConn, DuplexConn) {
	a, b := net.Pipe()
	return pipeConn{a}, pipeConn{b}
}

type fakeClientGateway struct {
	received chan wire.FromClientMessage
	gone     chan core.ClientID
}

func newFakeClientGateway() *fakeClientGateway {
	return &fakeClientGateway{received: make(chan wire.FromClientMessage, 8), gone: make(chan core.ClientID, 1)}
}

func (g *fakeClientGateway) HandleClientMessage(id core.ClientID, msg wire.FromClientMessage) {
	g.received <- msg
}

func (g *fakeClientGateway) ClientDisconnected(id core.ClientID) {
	g.gone <- id
}

func TestClientSessionRecvAndSend(t *testing.T) {
	engineSide, peerSide := newPipe()
	logger := slog.GetDefaultLogger()

	cs := NewClientSession(engineSide, wire.NewCodec(engineSide), 4, logger)
	gw := newFakeClientGateway()
	cs.Bind(core.ClientID(1), gw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go cs.Run(ctx)

	peerCodec := wire.NewCodec(peerSide)

	msg := wire.FromClientMessage{
		Op: wire.OpClientDesiresKeys,
		ClientDesiresKeys: &wire.ClientDesiresKeysMsg{Keys: []string{"a"}, Client: "c1"},
	}
	encoded, err := wire.EncodeFromClientMessage(msg)
	require.NoError(t, err)
	require.NoError(t, peerCodec.WritePacket(wire.Packet{Message: encoded}))

	select {
	case got := <-gw.received:
		require.Equal(t, wire.OpClientDesiresKeys, got.Op)
		require.Equal(t, msg.ClientDesiresKeys, got.ClientDesiresKeys)
	case <-time.After(time.Second):
		t.Fatal("expected the gateway to receive the decoded message")
	}

	cs.Send(wire.ToClientMessage{Op: wire.OpKeyInMemory, KeyInMemory: &wire.KeyInMemoryMsg{Key: "a", Type: []byte("int")}})

	replyCh := make(chan wire.Packet, 1)
	go func() {
		p, err := peerCodec.ReadPacket()
		if err == nil {
			replyCh <- p
		}
	}()

	select {
	case p := <-replyCh:
		decoded, err := wire.DecodeToClientMessage(p.Message)
		require.NoError(t, err)
		require.Equal(t, "a", decoded.KeyInMemory.Key)
	case <-time.After(time.Second):
		t.Fatal("expected to receive the queued outbound message")
	}

	require.NoError(t, peerCodec.WritePacket(mustEncodeClose(t)))
	select {
	case id := <-gw.gone:
		require.Equal(t, core.ClientID(1), id)
	case <-time.After(time.Second):
		t.Fatal("expected ClientDisconnected on CloseClient")
	}
}

func mustEncodeClose(t *testing.T) wire.Packet {
	t.Helper()
	encoded, err := wire.EncodeFromClientMessage(wire.FromClientMessage{Op: wire.OpCloseClient})
	require.NoError(t, err)
	return wire.Packet{Message: encoded}
}

type fakeWorkerGateway struct {
	received chan wire.FromWorkerMessage
	gone     chan core.WorkerID
}

func newFakeWorkerGateway() *fakeWorkerGateway {
	return &fakeWorkerGateway{received: make(chan wire.FromWorkerMessage, 8), gone: make(chan core.WorkerID, 1)}
}

func (g *fakeWorkerGateway) HandleWorkerMessage(id core.WorkerID, msg wire.FromWorkerMessage) {
	g.received <- msg
}

func (g *fakeWorkerGateway) WorkerDisconnected(id core.WorkerID) {
	g.gone <- id
}

func TestWorkerSessionHandshakeAndRecv(t *testing.T) {
	engineSide, peerSide := newPipe()
	logger := slog.GetDefaultLogger()

	reg := wire.RegisterWorkerMsg{ListenAddress: "tcp://w1", NCPUs: 4}
	ws := NewWorkerSession(engineSide, wire.NewCodec(engineSide), reg, 4, logger)
	gw := newFakeWorkerGateway()

	peerCodec := wire.NewCodec(peerSide)
	replyCh := make(chan wire.Packet, 1)
	go func() {
		p, err := peerCodec.ReadPacket()
		if err == nil {
			replyCh <- p
		}
	}()

	err := ws.Bind(core.WorkerID(1), gw, wire.HeartbeatResponse{Status: "OK", Time: 1, HeartbeatInterval: 5})
	require.NoError(t, err)

	select {
	case p := <-replyCh:
		hb, err := wire.DecodeHeartbeatResponse(p.Message)
		require.NoError(t, err)
		require.Equal(t, "OK", hb.Status)
	case <-time.After(time.Second):
		t.Fatal("expected a heartbeat-response handshake reply")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ws.Run(ctx)

	finished := wire.FromWorkerMessage{Op: wire.OpTaskFinished, TaskFinished: &wire.TaskFinishedMsg{Key: "a", Status: "OK", Type: []byte("int")}}
	encoded, err := wire.EncodeFromWorkerMessage(finished)
	require.NoError(t, err)
	require.NoError(t, peerCodec.WritePacket(wire.Packet{Message: encoded}))

	select {
	case got := <-gw.received:
		require.Equal(t, finished.TaskFinished, got.TaskFinished)
	case <-time.After(time.Second):
		t.Fatal("expected the gateway to receive the decoded message")
	}
}
