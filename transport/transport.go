// Package transport provides the blocking TCP byte channel the RCON session
// talks through. A TCPTransport dials lazily on first use, reads one
// length-prefixed frame at a time under a read deadline, and closes exactly
// once.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/medcat/steam-mist/logger"
)

const (
	// DefaultReadTimeout bounds a single ReadFrame when neither the caller nor
	// the Config chooses a duration.
	DefaultReadTimeout = 10 * time.Second

	// DefaultMaxFrameSize is the largest length prefix accepted from the peer.
	DefaultMaxFrameSize = 4096

	// HeaderSize is the width of the little-endian length prefix.
	HeaderSize = 4
)

var (
	// ErrTimeout is returned by ReadFrame when no frame started arriving within
	// the read timeout. It is a control-flow signal, not a fault.
	ErrTimeout = errors.New("transport: read timed out")

	// ErrInvalidState is returned when the address is changed after the socket
	// has been opened.
	ErrInvalidState = errors.New("transport: invalid state")

	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrShortRead is the target of every ShortReadError.
	ErrShortRead = errors.New("transport: short read")

	// ErrFrameSize is returned when the peer announces a negative or oversized
	// frame.
	ErrFrameSize = errors.New("transport: frame size out of range")
)

// ShortReadError reports a frame that ended before all of its announced
// bytes arrived, either because the peer closed the connection or because
// the deadline expired mid-frame.
type ShortReadError struct {
	Want int   // bytes the frame required (header or body)
	Got  int   // bytes actually read
	Err  error // underlying I/O error
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("transport: short read: wanted %d bytes, got %d: %v", e.Want, e.Got, e.Err)
}

// Unwrap lets errors.Is match both ErrShortRead and the underlying error.
func (e *ShortReadError) Unwrap() []error {
	return []error{ErrShortRead, e.Err}
}

// ConnectionState represents the lifecycle of a TCPTransport.
type ConnectionState int

const (
	Unbound ConnectionState = iota // Address known, no socket yet
	Bound                          // Socket open
	Closed                         // Terminal; the transport cannot be reused
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Unbound:
		return "Unbound"
	case Bound:
		return "Bound"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Config holds configuration for a TCPTransport.
type Config struct {
	// Host is the IPv4/IPv6 address or hostname of the server.
	Host string
	// Port is the TCP port of the server.
	Port int
	// ConnectTimeout is the max duration for establishing the connection; 0 means no timeout.
	ConnectTimeout time.Duration
	// ReadTimeout is the default wait for a frame when ReadFrame gets 0.
	ReadTimeout time.Duration
	// WriteTimeout is the max duration for a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// MaxFrameSize caps the length prefix accepted from the peer.
	MaxFrameSize int
	// Logger receives connection lifecycle and I/O failure entries; nil discards them.
	Logger logger.Logger
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - host: Server host
//   - port: Server port
//
// Returns:
//   - A Config with defaults: ConnectTimeout 10s, ReadTimeout 10s,
//     WriteTimeout 10s, MaxFrameSize 4096.
func DefaultConfig(host string, port int) Config {
	return Config{
		Host:           host,
		Port:           port,
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    DefaultReadTimeout,
		WriteTimeout:   10 * time.Second,
		MaxFrameSize:   DefaultMaxFrameSize,
	}
}

// TCPTransport is a lazily connected TCP channel. It is built for one
// logical operation at a time; Close may be called from any goroutine and
// unblocks a pending read.
type TCPTransport struct {
	mu     sync.Mutex
	config Config
	conn   net.Conn
	state  ConnectionState
	log    logger.Logger
}

// NewTCPTransport creates a transport in the Unbound state. No socket is
// opened until Connect, ReadFrame or Write is called.
func NewTCPTransport(config Config) *TCPTransport {
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = DefaultMaxFrameSize
	}

	return &TCPTransport{
		config: config,
		state:  Unbound,
		log:    logger.OrNop(config.Logger),
	}
}

// Address returns the "host:port" the transport dials.
func (t *TCPTransport) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return net.JoinHostPort(t.config.Host, strconv.Itoa(t.config.Port))
}

// SetHost changes the target host. It fails with ErrInvalidState once the
// socket has been opened.
func (t *TCPTransport) SetHost(host string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Unbound {
		return fmt.Errorf("%w: cannot change host while %s", ErrInvalidState, t.state)
	}

	t.config.Host = host
	return nil
}

// SetPort changes the target port. It fails with ErrInvalidState once the
// socket has been opened.
func (t *TCPTransport) SetPort(port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Unbound {
		return fmt.Errorf("%w: cannot change port while %s", ErrInvalidState, t.state)
	}

	t.config.Port = port
	return nil
}

// State returns the current connection state.
func (t *TCPTransport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect opens the socket. It is a no-op when already bound and returns
// ErrClosed after Close.
func (t *TCPTransport) Connect() error {
	_, err := t.ensureConnected()
	return err
}

func (t *TCPTransport) ensureConnected() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case Bound:
		return t.conn, nil
	case Closed:
		return nil, ErrClosed
	}

	addr := net.JoinHostPort(t.config.Host, strconv.Itoa(t.config.Port))
	dialer := net.Dialer{
		Timeout: t.config.ConnectTimeout,
	}

	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		t.log.Error("connect failed", logger.Field{Key: "remote", Value: addr}, logger.Field{Key: "error", Value: err.Error()})
		return nil, fmt.Errorf("transport: connect %s: %w", addr, err)
	}

	t.conn = conn
	t.state = Bound
	t.log = t.log.With(logger.Field{Key: "remote", Value: addr})
	t.log.Debug("connected")
	return conn, nil
}

// ReadFrame blocks until one complete frame (4-byte little-endian length
// followed by that many bytes) has been read, or the timeout elapses. The
// returned slice contains the length prefix followed by the frame body.
//
// Parameters:
//   - timeout: How long to wait for the whole frame; 0 uses Config.ReadTimeout
//
// Returns:
//   - The raw frame
//   - ErrTimeout if nothing arrived in time, a *ShortReadError if the frame was
//     cut off, ErrFrameSize for an impossible length, or a connect/I/O error
func (t *TCPTransport) ReadFrame(timeout time.Duration) ([]byte, error) {
	conn, err := t.ensureConnected()
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = t.config.ReadTimeout
	}
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, t.readError(err)
	}

	header := make([]byte, HeaderSize)
	if n, err := io.ReadFull(conn, header); err != nil {
		if n == 0 && isTimeout(err) {
			return nil, ErrTimeout
		}
		if t.State() == Closed {
			return nil, ErrClosed
		}

		return nil, &ShortReadError{Want: HeaderSize, Got: n, Err: err}
	}

	size := int32(binary.LittleEndian.Uint32(header))
	if size < 0 || int(size) > t.config.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d", ErrFrameSize, size)
	}

	frame := make([]byte, HeaderSize+int(size))
	copy(frame, header)
	if n, err := io.ReadFull(conn, frame[HeaderSize:]); err != nil {
		if t.State() == Closed {
			return nil, ErrClosed
		}

		return nil, &ShortReadError{Want: int(size), Got: n, Err: err}
	}

	return frame, nil
}

// Write sends b on the socket. It reports false instead of failing when the
// transport is closed or the write does not complete; the cause is logged.
func (t *TCPTransport) Write(b []byte) bool {
	if t.State() == Closed {
		return false
	}

	conn, err := t.ensureConnected()
	if err != nil {
		return false
	}

	if t.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout)); err != nil {
			t.log.Warn("set write deadline failed", logger.Field{Key: "error", Value: err.Error()})
			return false
		}

		defer func() {
			_ = conn.SetWriteDeadline(time.Time{}) // Best effort to clear deadline
		}()
	}

	if _, err := conn.Write(b); err != nil {
		t.log.Warn("write failed", logger.Field{Key: "error", Value: err.Error()}, logger.Field{Key: "bytes", Value: len(b)})
		return false
	}

	return true
}

// Close closes the socket exactly once. Later calls return nil.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == Closed {
		return nil
	}

	t.state = Closed
	if t.conn == nil {
		return nil
	}

	err := t.conn.Close()
	t.conn = nil
	t.log.Debug("closed")
	return err
}

func (t *TCPTransport) readError(err error) error {
	if t.State() == Closed {
		return ErrClosed
	}

	return fmt.Errorf("transport: read: %w", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
