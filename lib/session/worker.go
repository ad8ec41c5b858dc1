package session

import (
	"context"

	"taskcoord/lib/core"
	"taskcoord/lib/slog"
	"taskcoord/lib/wire"
)

// WorkerGateway is the engine-side surface a WorkerSession drives.
type WorkerGateway interface {
	HandleWorkerMessage(workerID core.WorkerID, msg wire.FromWorkerMessage)
	WorkerDisconnected(workerID core.WorkerID)
}

// WorkerSession owns one worker connection. Unlike ClientSession, its
// registration frame (RegisterWorkerMsg) has already been decoded by
// DispatchHandler before the session exists, so construction takes it
// directly rather than replaying a stashed packet.
type WorkerSession struct {
	ID       core.WorkerID
	Register wire.RegisterWorkerMsg

	conn    DuplexConn
	codec   *wire.Codec
	logger  slog.Logger
	outbox  chan wire.ToWorkerMessage
	gateway WorkerGateway
}

func NewWorkerSession(conn DuplexConn, codec *wire.Codec, reg wire.RegisterWorkerMsg, outboxSize int, logger slog.Logger) *WorkerSession {
	return &WorkerSession{
		Register: reg,
		conn:     conn,
		codec:    codec,
		logger:   logger,
		outbox:   make(chan wire.ToWorkerMessage, outboxSize),
	}
}

// Bind attaches the engine-allocated id and gateway, and writes the
// heartbeat-response handshake reply. Called by the engine from
// AcceptWorker before Run starts.
func (s *WorkerSession) Bind(id core.WorkerID, gateway WorkerGateway, heartbeat wire.HeartbeatResponse) error {
	s.ID = id
	s.gateway = gateway
	encoded, err := wire.EncodeHeartbeatResponse(heartbeat)
	if err != nil {
		return err
	}
	return s.codec.WritePacket(wire.Packet{Message: encoded})
}

func (s *WorkerSession) Send(msg wire.ToWorkerMessage) {
	select {
	case s.outbox <- msg:
	default:
		s.logger.Warn(&slog.LogRecord{Msg: "WorkerSession: outbox full, dropping message", WorkerID: slog.U64(uint64(s.ID))})
	}
}

func (s *WorkerSession) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.sendLoop(ctx)
	}()
	s.recvLoop(ctx)
	<-done
}

func (s *WorkerSession) recvLoop(ctx context.Context) {
	defer s.gateway.WorkerDisconnected(s.ID)
	defer close(s.outbox)

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
		msg, err := wire.DecodeFromWorkerMessage(packet.Message)
		if err != nil {
			s.logger.Warn(&slog.LogRecord{Msg: "WorkerSession: protocol error", WorkerID: slog.U64(uint64(s.ID)), Error: err})
			return
		}
		if msg.Op == wire.OpTaskErred {
			msg.TaskErred.Frames = packet.Frames
		}
		s.gateway.HandleWorkerMessage(s.ID, msg)
	}
}

func (s *WorkerSession) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-s.outbox:
			if !ok {
				_ = s.conn.CloseWrite()
				return
			}
			encoded, err := wire.EncodeToWorkerMessage(msg)
			if err != nil {
				s.logger.Error(&slog.LogRecord{Msg: "WorkerSession: encode error", WorkerID: slog.U64(uint64(s.ID)), Error: err})
				continue
			}
			packet := wire.Packet{Message: encoded}
			if msg.Op == wire.OpComputeTask && msg.ComputeTask != nil {
				packet.Frames = msg.ComputeTask.Frames
			}
			if err := s.codec.WritePacket(packet); err != nil {
				s.logger.Warn(&slog.LogRecord{Msg: "WorkerSession: write error", WorkerID: slog.U64(uint64(s.ID)), Error: err})
				return
			}
		}
	}
}
