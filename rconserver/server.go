// Package rconserver is a small Source RCON server that answers the way a
// Source dedicated server does, including the quirks the client relies on:
// the empty packet ahead of every auth verdict and the 00 01 00 00 packet
// that follows the mirror of an empty response value. It backs integration
// tests and the "serve" command of the CLI.
package rconserver

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/medcat/steam-mist/idgenerator"
	"github.com/medcat/steam-mist/logger"
	"github.com/medcat/steam-mist/rcon"
	"github.com/medcat/steam-mist/safemap"
)

// DefaultMaxFragmentBody is the largest body placed in one response packet.
const DefaultMaxFragmentBody = rcon.MaxPacketSize - rcon.WrapperSize

// Handler executes a console command and returns its output.
type Handler func(command string) string

// Config holds configuration for a Server.
type Config struct {
	// Addr is the "host:port" to listen on; port 0 picks a free port.
	Addr string
	// Password is the RCON password clients must present.
	Password string
	// Handler produces command output; nil answers every command with an
	// "Unknown command" line.
	Handler Handler
	// MaxFragmentBody splits longer output across several packets; 0 means
	// DefaultMaxFragmentBody.
	MaxFragmentBody int
	// Logger receives server entries; nil discards them.
	Logger logger.Logger
}

// Server accepts RCON connections and serves each one in its own goroutine.
// Connections are stored by id and closed on Stop.
type Server struct {
	config   Config
	log      logger.Logger
	listener net.Listener
	running  atomic.Bool
	sessions *safemap.SafeMap[int32, *session]
	ids      *idgenerator.IdGenerator
	wg       sync.WaitGroup
}

// New creates a server that is not yet listening.
func New(config Config) *Server {
	if config.MaxFragmentBody <= 0 || config.MaxFragmentBody > DefaultMaxFragmentBody {
		config.MaxFragmentBody = DefaultMaxFragmentBody
	}
	if config.Handler == nil {
		config.Handler = unknownCommand
	}

	return &Server{
		config:   config,
		log:      logger.OrNop(config.Logger),
		ids:      idgenerator.NewIdGenerator(0),
		sessions: safemap.NewSafeMap[int32, *session](),
	}
}

// Start binds to Addr and begins the accept loop in a goroutine.
//
// Returns:
//   - An error if the server is already running or if listening on Addr fails
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("rconserver: already running on %s", s.Addr())
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		s.log.Error("listen failed", logger.Field{Key: "addr", Value: s.config.Addr}, logger.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("rconserver: listen %s: %w", s.config.Addr, err)
	}

	s.listener = ln
	s.running.Store(true)
	s.log.Info("rcon server started", logger.Field{Key: "addr", Value: ln.Addr().String()})

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the address the server is listening on, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Stop closes the listener and every open connection, then waits for their
// goroutines to finish. Safe to call when the server is not running.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	_ = s.listener.Close()
	s.sessions.Range(func(_ int32, sess *session) bool {
		_ = sess.Close()
		return true
	})
	s.wg.Wait()

	s.log.Info("rcon server stopped")
}

// SessionCount returns the number of open connections.
func (s *Server) SessionCount() int {
	return s.sessions.Len()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}

			s.log.Error("accept error", logger.Field{Key: "error", Value: err.Error()})
			continue
		}

		id := s.ids.Id()
		sess := newSession(id, conn, s)
		s.sessions.Store(id, sess)
		if !s.running.Load() {
			_ = sess.Close()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sessions.Delete(id)
			sess.handle()
		}()
	}
}

func unknownCommand(command string) string {
	return fmt.Sprintf("Unknown command \"%s\"\n", command)
}
