package rcon

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medcat/steam-mist/idgenerator"
	"github.com/medcat/steam-mist/logger"
	"github.com/medcat/steam-mist/transport"
)

const (
	// DefaultPort is the usual Source dedicated server RCON port.
	DefaultPort = 27015

	// DefaultTimeout bounds every packet read of a session.
	DefaultTimeout = 10 * time.Second
)

// ErrWriteFailed is returned when the transport reports that a request could
// not be written, for example because the session was closed.
var ErrWriteFailed = errors.New("rcon: write failed")

// Transport is the byte channel a Session runs over. *transport.TCPTransport
// is the production implementation; tests substitute their own.
type Transport interface {
	// Connect opens the channel. It is a no-op when already open.
	Connect() error

	// ReadFrame returns one size-prefixed frame. It returns an error matching
	// transport.ErrTimeout when nothing arrives within timeout.
	ReadFrame(timeout time.Duration) ([]byte, error)

	// Write sends b and reports whether it was sent. A closed channel
	// reports false.
	Write(b []byte) bool

	// Close releases the channel. Repeated calls are no-ops.
	Close() error
}

// Config holds settings for a Session.
type Config struct {
	// Timeout bounds each packet read; 0 means DefaultTimeout.
	Timeout time.Duration

	// StartingID is the value the id counter starts from; the first packet
	// gets StartingID+1.
	StartingID int32

	// Logger receives session entries; nil discards them.
	Logger logger.Logger

	// LogAuthPackets includes the password of outbound auth packets in debug
	// logs. When false the body is scrubbed.
	LogAuthPackets bool

	// TrackPackets records every allocated packet id in Tracker().
	TrackPackets bool
}

// Result is the outcome of a command: either one packet or an ordered list
// of fragments. It may be empty when the server sent fewer packets than the
// end-of-response bookkeeping accounts for.
type Result struct {
	packets []Packet
}

// Single returns the packet when the response consisted of exactly one.
func (r Result) Single() (Packet, bool) {
	if len(r.packets) != 1 {
		return Packet{}, false
	}

	return r.packets[0], true
}

// Packets returns every fragment in arrival order.
func (r Result) Packets() []Packet {
	return r.packets
}

// Len returns the number of fragments.
func (r Result) Len() int {
	return len(r.packets)
}

// Body concatenates the bodies of all fragments.
func (r Result) Body() string {
	var sb strings.Builder
	for _, p := range r.packets {
		sb.Write(p.Body)
	}

	return sb.String()
}

// Session is one conversation with an RCON server over a single connection.
// A Session must not be used from several goroutines at once: responses are
// not matched to requests by id, so overlapping commands would interleave.
type Session struct {
	transport     Transport
	ids           *idgenerator.IdGenerator
	tracker       *idgenerator.Tracker
	timeout       time.Duration
	log           logger.Logger
	logAuth       bool
	authenticated bool
}

// NewSession creates a session for host:port over a lazily dialled TCP
// connection. Port 0 means DefaultPort.
func NewSession(host string, port int, config Config) *Session {
	if port == 0 {
		port = DefaultPort
	}

	tc := transport.DefaultConfig(host, port)
	if config.Timeout > 0 {
		tc.ReadTimeout = config.Timeout
	}
	tc.Logger = config.Logger

	return NewSessionWithTransport(transport.NewTCPTransport(tc), config)
}

// NewSessionWithTransport creates a session over t. The session owns t and
// closes it on Close.
func NewSessionWithTransport(t Transport, config Config) *Session {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s := &Session{
		transport: t,
		ids:       idgenerator.NewIdGenerator(config.StartingID),
		timeout:   timeout,
		log:       logger.OrNop(config.Logger),
		logAuth:   config.LogAuthPackets,
	}
	if config.TrackPackets {
		s.tracker = idgenerator.NewTracker()
	}

	return s
}

// SetAddress retargets the session before its connection is opened. It
// fails with transport.ErrInvalidState once connected.
func (s *Session) SetAddress(host string, port int) error {
	t, ok := s.transport.(interface {
		SetHost(string) error
		SetPort(int) error
	})
	if !ok {
		return fmt.Errorf("%w: transport cannot be readdressed", transport.ErrInvalidState)
	}

	if err := t.SetHost(host); err != nil {
		return err
	}

	return t.SetPort(port)
}

// NewPacket returns a packet carrying the next id of this session.
func (s *Session) NewPacket(typ PacketType, body string) Packet {
	p := NewPacket(s.ids.Id(), typ, body)
	if s.tracker != nil {
		s.tracker.Add(p.ID)
	}

	return p
}

// NextID returns the id the next packet will carry, without allocating it.
func (s *Session) NextID() int32 {
	return s.ids.Peek()
}

// Tracker returns the allocated-id record, or nil unless Config.TrackPackets
// was set.
func (s *Session) Tracker() *idgenerator.Tracker {
	return s.tracker
}

// Authenticated reports whether the last Authenticate call succeeded.
func (s *Session) Authenticated() bool {
	return s.authenticated
}

// Authenticate sends password to the server. A rejected password is
// reported as false with a nil error.
//
// The server answers an auth request with an empty packet first and the real
// verdict second; the verdict's id equals the request id on success and is
// -1 on failure.
func (s *Session) Authenticate(password string) (bool, error) {
	req := s.NewPacket(TypeAuth, password)
	if err := s.send(req); err != nil {
		return false, err
	}

	if _, err := s.readPacket(); err != nil {
		return false, fmt.Errorf("rcon: auth acknowledgement: %w", err)
	}

	resp, err := s.readPacket()
	if err != nil {
		return false, fmt.Errorf("rcon: auth response: %w", err)
	}

	s.authenticated = resp.ID == req.ID
	if s.authenticated {
		s.log.Info("authenticated", logger.Field{Key: "id", Value: req.ID})
	} else {
		s.log.Warn("authentication rejected", logger.Field{Key: "id", Value: req.ID}, logger.Field{Key: "response_id", Value: resp.ID})
	}

	return s.authenticated, nil
}

// ExecuteCommand runs a console command and returns its output.
func (s *Session) ExecuteCommand(command string) (Result, error) {
	return s.Send(s.NewPacket(TypeExecCommand, command))
}

// Send writes p followed by an empty TypeResponseValue trailer with the same
// id, then collects packets until the server's sentinel arrives or a read
// times out. The last two collected packets (the trailer's mirror and the
// sentinel) are dropped; what remains is the response.
func (s *Session) Send(p Packet) (Result, error) {
	start := time.Now()
	trailer := Packet{ID: p.ID, Type: TypeResponseValue}

	if err := s.send(p); err != nil {
		return Result{}, err
	}
	if err := s.send(trailer); err != nil {
		return Result{}, err
	}

	var collected []Packet
	for len(collected) == 0 || !collected[len(collected)-1].IsSentinel() {
		pkt, err := s.readPacket()
		if errors.Is(err, transport.ErrTimeout) {
			s.log.Debug("response ended by timeout", logger.Field{Key: "id", Value: p.ID}, logger.Field{Key: "collected", Value: len(collected)})
			break
		}
		if err != nil {
			return Result{}, err
		}

		collected = append(collected, pkt)
	}

	// Fewer than two packets leaves nothing, even if one of them was output.
	n := max(len(collected)-2, 0)
	res := Result{packets: collected[:n:n]}

	s.log.Debug("command completed",
		logger.Field{Key: "id", Value: p.ID},
		logger.Field{Key: "fragments", Value: res.Len()},
		logger.Field{Key: "elapsed_ms", Value: time.Since(start).Milliseconds()},
	)

	return res, nil
}

// Close closes the underlying connection. It is safe to call repeatedly.
func (s *Session) Close() error {
	s.authenticated = false
	return s.transport.Close()
}

func (s *Session) send(p Packet) error {
	if err := s.transport.Connect(); err != nil {
		return err
	}

	s.logPacket("sending packet", p, true)
	if !s.transport.Write(Encode(p)) {
		return fmt.Errorf("%w: packet %d", ErrWriteFailed, p.ID)
	}

	return nil
}

func (s *Session) readPacket() (Packet, error) {
	frame, err := s.transport.ReadFrame(s.timeout)
	if err != nil {
		var sre *transport.ShortReadError
		if errors.As(err, &sre) {
			return Packet{}, &DecodeError{Want: sre.Want, Got: sre.Got, Err: sre.Err}
		}
		if errors.Is(err, transport.ErrFrameSize) {
			return Packet{}, fmt.Errorf("%w: %w", ErrInvalidSize, err)
		}

		return Packet{}, err
	}

	p, err := Decode(frame)
	if err != nil {
		return Packet{}, err
	}

	s.logPacket("received packet", p, false)
	return p, nil
}

// logPacket writes p as hex at debug level. Outbound auth packets have
// their body replaced unless LogAuthPackets is set.
func (s *Session) logPacket(msg string, p Packet, outbound bool) {
	if !s.log.Enabled(zerolog.DebugLevel) {
		return
	}

	if outbound && p.Type == TypeAuth && !s.logAuth {
		p.Body = []byte("xxxxx")
	}

	s.log.Debug(msg,
		logger.Field{Key: "id", Value: p.ID},
		logger.Field{Key: "type", Value: int32(p.Type)},
		logger.Field{Key: "packet", Value: p.Hex()},
	)
}
