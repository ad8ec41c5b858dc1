package session

import (
	"context"

	"taskcoord/lib/core"
	"taskcoord/lib/slog"
	"taskcoord/lib/wire"
)

// ClientGateway is the engine-side surface a ClientSession drives. The
// engine implements this on its single-threaded loop; every method here is
// expected to enqueue work and return quickly rather than block.
type ClientGateway interface {
	HandleClientMessage(clientID core.ClientID, msg wire.FromClientMessage)
	ClientDisconnected(clientID core.ClientID)
}

// ClientSession owns one client connection: a recv loop that decodes
// inbound frames and forwards them to the engine, and a send loop that
// drains an outbound queue of ToClientMessage in FIFO order. The two loops
// share only the outbound channel; neither touches the entity store.
type ClientSession struct {
	ID      core.ClientID
	conn    DuplexConn
	codec   *wire.Codec
	logger  slog.Logger
	outbox  chan wire.ToClientMessage
	gateway ClientGateway

	firstPacket *wire.Packet
	firstOp     wire.Op
}

func NewClientSession(conn DuplexConn, codec *wire.Codec, outboxSize int, logger slog.Logger) *ClientSession {
	return &ClientSession{
		conn:   conn,
		codec:  codec,
		logger: logger,
		outbox: make(chan wire.ToClientMessage, outboxSize),
	}
}

// Bind attaches the engine gateway and the id the engine allocated for this
// connection. Called by the engine from AcceptClient before Run starts.
func (s *ClientSession) Bind(id core.ClientID, gateway ClientGateway) {
	s.ID = id
	s.gateway = gateway
}

// Send queues an outbound message. It never blocks the engine loop for
// long: the outbox is sized generously, and a full outbox indicates a
// stalled client that will be torn down by its own recv loop eventually.
func (s *ClientSession) Send(msg wire.ToClientMessage) {
	select {
	case s.outbox <- msg:
	default:
		s.logger.Warn(&slog.LogRecord{Msg: "ClientSession: outbox full, dropping message", ClientID: slog.U64(uint64(s.ID))})
	}
}

// handleFirstMessage stashes the packet DispatchHandler already read off
// the wire so Run's recv loop processes it before reading any more.
func (s *ClientSession) handleFirstMessage(packet wire.Packet, op wire.Op) {
	s.firstPacket = &packet
	s.firstOp = op
}

// Run drives both loops until the connection closes or ctx is cancelled.
func (s *ClientSession) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.sendLoop(ctx)
	}()
	s.recvLoop(ctx)
	<-done
}

func (s *ClientSession) recvLoop(ctx context.Context) {
	defer s.gateway.ClientDisconnected(s.ID)
	defer close(s.outbox)

	if s.firstPacket != nil {
		if !s.dispatchPacket(*s.firstPacket) {
			return
		}
		s.firstPacket = nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		packet, err := s.codec.ReadPacket()
		if err != nil {
			return
		}
		if !s.dispatchPacket(packet) {
			return
		}
	}
}

func (s *ClientSession) dispatchPacket(packet wire.Packet) bool {
	msg, err := wire.DecodeFromClientMessage(packet.Message)
	if err != nil {
		s.logger.Warn(&slog.LogRecord{Msg: "ClientSession: protocol error", ClientID: slog.U64(uint64(s.ID)), Error: err})
		return false
	}
	if msg.Op == wire.OpUpdateGraph {
		msg.UpdateGraph.Frames = packet.Frames
	}
	s.gateway.HandleClientMessage(s.ID, msg)
	if msg.Op == wire.OpCloseClient || msg.Op == wire.OpCloseStream {
		return false
	}
	return true
}

func (s *ClientSession) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.outbox:
			if !ok {
				_ = s.conn.CloseWrite()
				return
			}
			encoded, err := wire.EncodeToClientMessage(msg)
			if err != nil {
				s.logger.Error(&slog.LogRecord{Msg: "ClientSession: encode error", ClientID: slog.U64(uint64(s.ID)), Error: err})
				continue
			}
			if err := s.codec.WritePacket(wire.Packet{Message: encoded}); err != nil {
				s.logger.Warn(&slog.LogRecord{Msg: "ClientSession: write error", ClientID: slog.U64(uint64(s.ID)), Error: err})
				return
			}
		}
	}
}
