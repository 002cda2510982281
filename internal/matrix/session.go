package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"
)

// SessionConfig carries the transport parameters for one device.
type SessionConfig struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration

	// Quiescence is how long the read loop waits with no incoming bytes
	// before flushing a partial buffer as a complete line. The device
	// terminates some responses without any line ending.
	Quiescence time.Duration
}

// Session owns the TCP connection to the matrix. It delivers every
// settled response line to the OnLine callback and reports socket
// failure through OnDisconnect. Session does no command sequencing;
// that is the dispatcher's job.
//
// A Session can be reconnected: Connect after Disconnect establishes a
// fresh socket with a fresh read loop.
type Session struct {
	cfg    SessionConfig
	logger Logger

	// OnLine receives each complete response line, with line endings
	// stripped. Called from the read loop goroutine.
	OnLine func(line string)

	// OnDisconnect is called once per connection when the socket fails
	// for any reason other than a local Disconnect.
	OnDisconnect func(err error)

	mu      sync.Mutex
	conn    net.Conn
	closing bool
	done    chan struct{}
}

// NewSession creates a disconnected session.
func NewSession(cfg SessionConfig, logger Logger) *Session {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.Quiescence <= 0 {
		cfg.Quiescence = 150 * time.Millisecond
	}
	return &Session{cfg: cfg, logger: logger}
}

// Connect dials the device and starts the read loop. Dial failures are
// classified into the package's sentinel errors so callers can decide
// between fast retry and backoff.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = false
	s.mu.Unlock()

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout}

	s.logger.Debug("connecting to matrix", "addr", addr)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return classifyDialError(err, addr)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
		_ = tc.SetNoDelay(true)
	}

	s.mu.Lock()
	s.conn = conn
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.readLoop(conn, done)

	s.logger.Info("connected to matrix", "addr", addr)
	return nil
}

// classifyDialError maps transport failures onto sentinel errors.
func classifyDialError(err error, addr string) error {
	var nerr net.Error
	switch {
	case errors.As(err, &nerr) && nerr.Timeout():
		return fmt.Errorf("%w: %s: %v", ErrConnectTimeout, addr, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %s: %v", ErrConnectRefused, addr, err)
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return fmt.Errorf("%w: %s: %v", ErrNetworkUnreachable, addr, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrNotConnected, addr, err)
	}
}

// Disconnect closes the socket and waits for the read loop to exit.
// Idempotent; safe to call on an already-disconnected session.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	done := s.done
	s.closing = true
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.Close()
	if done != nil {
		<-done
	}
	s.logger.Info("disconnected from matrix", "host", s.cfg.Host)
}

// Connected reports whether a socket is currently open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Send writes one encoded command to the socket. The write deadline is
// short; the device either accepts the bytes promptly or the link is
// dead.
func (s *Session) Send(wire string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.SetWriteDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if _, err := conn.Write([]byte(wire)); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	s.logger.Debug("sent command", "wire", wire)
	return nil
}

// readLoop accumulates bytes from the socket and delivers complete
// lines. The device sends free text with inconsistent line endings and
// sometimes none at all, so a quiescence timeout flushes whatever has
// accumulated as one line.
func (s *Session) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)

	var pending bytes.Buffer
	buf := make([]byte, 512)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.Quiescence))
		n, err := conn.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
			s.deliverLines(&pending)
		}
		if err == nil {
			continue
		}

		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			// Quiescence reached. Flush any partial response.
			if pending.Len() > 0 {
				s.deliver(pending.String())
				pending.Reset()
			}
			continue
		}

		s.mu.Lock()
		deliberate := s.closing
		s.conn = nil
		s.mu.Unlock()

		if pending.Len() > 0 {
			s.deliver(pending.String())
		}
		if !deliberate {
			s.logger.Warn("matrix connection lost", "host", s.cfg.Host, "error", err)
			if s.OnDisconnect != nil {
				s.OnDisconnect(fmt.Errorf("%w: %v", ErrConnectionLost, err))
			}
		}
		return
	}
}

// deliverLines splits the pending buffer on CR/LF boundaries and
// delivers each complete line, leaving any trailing partial line in
// the buffer for the next read or the quiescence flush.
func (s *Session) deliverLines(pending *bytes.Buffer) {
	data := pending.Bytes()
	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] != '\r' && data[i] != '\n' {
			continue
		}
		if i > start {
			s.deliver(string(data[start:i]))
		}
		start = i + 1
	}
	if start > 0 {
		rest := append([]byte(nil), data[start:]...)
		pending.Reset()
		pending.Write(rest)
	}
}

func (s *Session) deliver(line string) {
	line = string(bytes.TrimSpace([]byte(line)))
	if line == "" {
		return
	}
	s.logger.Debug("received line", "line", line)
	if s.OnLine != nil {
		s.OnLine(line)
	}
}
