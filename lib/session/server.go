package session

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"taskcoord/lib/slog"
)

var ErrConnectionTypeUnsupported = errors.New("connection type unsupported")

// Server accepts connections on a listener and hands each one to Handler on
// its own goroutine. Handler is responsible for closing the connection.
type Server struct {
	Logger                      slog.Logger
	Handler                     Handler
	Listener                    net.Listener
	AcceptErrorCooldownDuration time.Duration
}

func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			s.Logger.Error(&slog.LogRecord{Msg: "listener.Accept error", Error: err})
			time.Sleep(s.AcceptErrorCooldownDuration)
			continue
		}
		duplex, err := asDuplexConn(conn)
		if err != nil {
			_ = conn.Close()
			continue
		}
		go s.Handler.Handle(ctx, duplex)
	}
}

func asDuplexConn(conn net.Conn) (DuplexConn, error) {
	switch cc := conn.(type) {
	case *tls.Conn:
		return cc, nil
	case *net.TCPConn:
		return cc, nil
	default:
		return nil, ErrConnectionTypeUnsupported
	}
}
