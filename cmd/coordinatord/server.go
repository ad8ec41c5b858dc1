package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"taskcoord/lib/engine"
	"taskcoord/lib/scheduler"
	"taskcoord/lib/session"
	"taskcoord/lib/slog"
)

type Server struct {
	logger  slog.Logger
	cfg     *Config
	srv     *session.Server
	eng     *engine.Engine
	schedCh *scheduler.Channel
	policy  *naivePolicy

	toSchedulerOut chan scheduler.ToSchedulerEvent
	fromScheduler  chan scheduler.FromSchedulerEvent
	workerLC       chan engine.WorkerLifecycleEvent
}

func NewServer(logger slog.Logger, cfg *Config) (*Server, error) {
	listener, err := net.Listen(cfg.ListenNetwork, cfg.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("listen on network %s address %s: %w", cfg.ListenNetwork, cfg.ListenAddress, err)
	}

	toSchedulerOut := make(chan scheduler.ToSchedulerEvent, cfg.EventBuffer)
	fromScheduler := make(chan scheduler.FromSchedulerEvent, cfg.EventBuffer)
	workerLC := make(chan engine.WorkerLifecycleEvent, cfg.EventBuffer)

	eng := engine.New(engine.Config{
		Logger:          logger,
		Now:             func() int64 { return time.Now().Unix() },
		EventBuffer:     cfg.EventBuffer,
		WorkerLifecycle: workerLC,
	})

	schedCh := scheduler.NewChannel(scheduler.ChannelConfig{
		Sink:     eng,
		Inbound:  fromScheduler,
		Outbound: toSchedulerOut,
		Logger:   logger,
	})
	eng.SetSchedulerChannel(schedCh)

	dispatch := &session.DispatchHandler{
		Logger:     logger,
		Engine:     eng,
		OutboxSize: cfg.OutboxSize,
	}
	recoverer := &session.RecovererHandler{Logger: logger, Inner: dispatch}
	base := &session.ConnCloserHandler{Inner: recoverer}

	srv := &session.Server{
		Logger:                      logger,
		Handler:                     base,
		Listener:                    listener,
		AcceptErrorCooldownDuration: cfg.AcceptErrorCooldown,
	}

	policy := newNaivePolicy(logger, fromScheduler, toSchedulerOut, workerLC)

	return &Server{
		logger:         logger,
		cfg:            cfg,
		srv:            srv,
		eng:            eng,
		schedCh:        schedCh,
		policy:         policy,
		toSchedulerOut: toSchedulerOut,
		fromScheduler:  fromScheduler,
		workerLC:       workerLC,
	}, nil
}

// Serve runs the coordinator until ctx is cancelled or the accept loop or
// engine fails. It starts, in order: the scheduler channel's consumption
// loop, the placeholder placement policy, the engine's single event loop,
// then the connection acceptor.
func (s *Server) Serve(ctx context.Context) error {
	s.schedCh.Start(ctx)
	defer s.schedCh.Stop()

	go s.policy.run(ctx)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		s.eng.Run(ctx)
	}()

	s.logger.Info(&slog.LogRecord{Msg: fmt.Sprintf("listening on network: %s address: %s", s.cfg.ListenNetwork, s.cfg.ListenAddress)})

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.srv.Serve(ctx) }()

	select {
	case <-engineDone:
		if err := s.eng.FatalErr(); err != nil {
			return err
		}
		return nil
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
