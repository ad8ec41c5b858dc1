// Package session implements the per-connection lifecycle for clients and
// workers: a composed Handler chain (innermost-out) that recovers panics,
// dispatches on whichever registration frame arrives first, then hands the
// connection off to a ClientSession or WorkerSession which splits it into
// an independent recv loop and send loop communicating with the
// coordination engine over channels.
package session

import (
	"context"
	"net"

	"taskcoord/lib/slog"
	"taskcoord/lib/wire"
)

// DuplexConn is a connection that supports half-close, needed so a session
// can stop writing without tearing down reads (and vice versa) during
// teardown.
type DuplexConn interface {
	net.Conn
	CloseWrite() error
}

// Handler handles one accepted connection.
type Handler interface {
	Handle(ctx context.Context, conn DuplexConn)
}

// ConnCloserHandler closes the connection once Inner returns. It should be
// the outermost handler in the stack.
type ConnCloserHandler struct {
	Inner Handler
}

func (h *ConnCloserHandler) Handle(ctx context.Context, conn DuplexConn) {
	defer func() {
		_ = conn.Close()
	}()
	h.Inner.Handle(ctx, conn)
}

var _ Handler = (*ConnCloserHandler)(nil)

// RecovererHandler recovers a panic from Inner.Handle, logs it, and lets
// the connection close normally rather than taking the accept loop down
// with it.
type RecovererHandler struct {
	Logger slog.Logger
	Inner  Handler
}

func (h *RecovererHandler) Handle(ctx context.Context, conn DuplexConn) {
	defer func() {
		if r := recover(); r != nil {
			h.Logger.Error(&slog.LogRecord{Msg: "RecovererHandler: Unexpected panic!"})
		}
	}()
	h.Inner.Handle(ctx, conn)
}

var _ Handler = (*RecovererHandler)(nil)

// EngineGateway is the coordination engine's inbound surface: everything a
// session needs to hand decoded messages and lifecycle events to the
// single-threaded engine loop.
type EngineGateway interface {
	AcceptClient(session *ClientSession)
	AcceptWorker(session *WorkerSession)
}

// DispatchHandler peeks at the first frame on a freshly accepted
// connection to decide whether it is a client or a worker, then builds the
// matching session and registers it with the engine. It is the terminal
// (innermost) handler in the chain.
type DispatchHandler struct {
	Logger  slog.Logger
	Engine  EngineGateway
	OutboxSize int
}

func (h *DispatchHandler) Handle(ctx context.Context, conn DuplexConn) {
	codec := wire.NewCodec(conn)
	packet, err := codec.ReadPacket()
	if err != nil {
		h.Logger.Warn(&slog.LogRecord{Msg: "DispatchHandler: failed to read registration frame", Error: err})
		return
	}

	op, err := wire.PeekOp(packet.Message)
	if err != nil {
		h.Logger.Warn(&slog.LogRecord{Msg: "DispatchHandler: malformed registration frame", Error: err})
		return
	}

	outboxSize := h.OutboxSize
	if outboxSize <= 0 {
		outboxSize = 64
	}

	if op == wire.OpRegisterWorker {
		reg, err := wire.DecodeRegisterWorkerMsg(packet.Message)
		if err != nil {
			h.Logger.Warn(&slog.LogRecord{Msg: "DispatchHandler: malformed RegisterWorker", Error: err})
			return
		}
		ws := NewWorkerSession(conn, codec, reg, outboxSize, h.Logger)
		h.Engine.AcceptWorker(ws)
		ws.Run(ctx)
		return
	}

	cs := NewClientSession(conn, codec, outboxSize, h.Logger)
	h.Engine.AcceptClient(cs)
	cs.handleFirstMessage(packet, op)
	cs.Run(ctx)
}

var _ Handler = (*DispatchHandler)(nil)
