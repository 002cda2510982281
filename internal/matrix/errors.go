package matrix

import "errors"

// Domain errors for the matrix control package.
var (
	// ErrInvalidArgument is returned when a channel or preset slot is out
	// of range. Caller bug; never retried.
	ErrInvalidArgument = errors.New("matrix: invalid argument")

	// ErrNotConnected is returned when an operation requires a connection
	// but the session is not connected to the device.
	ErrNotConnected = errors.New("matrix: not connected")

	// ErrConnectTimeout is returned when the TCP handshake does not
	// complete within the connect timeout.
	ErrConnectTimeout = errors.New("matrix: connect timed out")

	// ErrConnectRefused is returned when the device actively refuses the
	// connection.
	ErrConnectRefused = errors.New("matrix: connection refused")

	// ErrNetworkUnreachable is returned when no route to the device
	// exists.
	ErrNetworkUnreachable = errors.New("matrix: network unreachable")

	// ErrConnectionLost is returned when the socket fails mid-session.
	// The pending command fails immediately rather than waiting out its
	// deadline.
	ErrConnectionLost = errors.New("matrix: connection lost")

	// ErrWriteFailed is returned when a write to the socket fails.
	ErrWriteFailed = errors.New("matrix: write failed")

	// ErrCommandTimeout is returned when the device does not produce a
	// matching response within the per-command timeout.
	ErrCommandTimeout = errors.New("matrix: command timed out")

	// ErrRetriesExhausted is returned when a command failed after all
	// configured re-sends.
	ErrRetriesExhausted = errors.New("matrix: retries exhausted")

	// ErrSessionClosed is returned for commands still queued when the
	// dispatcher shuts down.
	ErrSessionClosed = errors.New("matrix: session closed")
)
