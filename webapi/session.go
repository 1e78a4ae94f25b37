package webapi

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/medcat/steam-mist/logger"
	"github.com/medcat/steam-mist/safemap"
)

// DefaultHTTPTimeout bounds a whole Web API request, body included.
const DefaultHTTPTimeout = 30 * time.Second

// ConnectorMode decides when a Connector performs its request.
type ConnectorMode int

const (
	// Lazy connectors request on the first read of their data.
	Lazy ConnectorMode = iota
	// Eager connectors request as soon as they are opened.
	Eager
)

func (m ConnectorMode) String() string {
	switch m {
	case Lazy:
		return "lazy"
	case Eager:
		return "eager"
	default:
		return fmt.Sprintf("ConnectorMode(%d)", int(m))
	}
}

// ParseConnectorMode accepts "lazy" or "eager" in any case; "" is Lazy.
func ParseConnectorMode(s string) (ConnectorMode, error) {
	switch strings.ToLower(s) {
	case "", "lazy":
		return Lazy, nil
	case "eager":
		return Eager, nil
	default:
		return Lazy, fmt.Errorf("webapi: unknown connector mode %q", s)
	}
}

// Config holds settings for a Session.
type Config struct {
	// Domain is the API host; "" means DefaultDomain.
	Domain string

	// Mode picks lazy or eager connectors.
	Mode ConnectorMode

	// DefaultArguments are sent with every request, typically the API key.
	// Method arguments override them.
	DefaultArguments Arguments

	// HTTPClient performs the requests; nil means a client with
	// DefaultHTTPTimeout.
	HTTPClient *http.Client

	// Logger receives request entries; nil discards them.
	Logger logger.Logger
}

// DefaultConfig returns a lazy configuration for DefaultDomain.
func DefaultConfig() Config {
	return Config{
		Domain:     DefaultDomain,
		Mode:       Lazy,
		HTTPClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
}

// Session is the entry point to the Web API. It is safe for concurrent use.
type Session struct {
	domain string
	mode   ConnectorMode
	client *http.Client
	log    logger.Logger

	mu         sync.Mutex
	defaults   Arguments
	interfaces *safemap.SafeMap[string, *Interface]
}

// NewSession creates a session from config.
func NewSession(config Config) *Session {
	if config.Domain == "" {
		config.Domain = DefaultDomain
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	return &Session{
		domain:     config.Domain,
		mode:       config.Mode,
		client:     config.HTTPClient,
		log:        logger.OrNop(config.Logger),
		defaults:   Arguments{}.Merge(config.DefaultArguments),
		interfaces: safemap.NewSafeMap[string, *Interface](),
	}
}

// Mode returns the connector mode.
func (s *Session) Mode() ConnectorMode {
	return s.mode
}

// Domain returns the API host.
func (s *Session) Domain() string {
	return s.domain
}

// DefaultArguments returns a copy of the arguments sent with every request.
func (s *Session) DefaultArguments() Arguments {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Arguments{}.Merge(s.defaults)
}

// SetDefaultArgument adds or replaces a default argument. Connectors that
// are already open keep the arguments they were built with.
func (s *Session) SetDefaultArgument(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.defaults[name] = value
}

// Interface returns the interface called name, creating it on first use.
// Every call with the same name returns the same *Interface.
func (s *Session) Interface(name string) *Interface {
	if iface, ok := s.interfaces.Load(name); ok {
		return iface
	}

	iface, _ := s.interfaces.LoadOrStore(name, &Interface{
		session: s,
		name:    name,
		methods: safemap.NewSafeMap[string, *Method](),
	})
	return iface
}

func (s *Session) String() string {
	return fmt.Sprintf("webapi.Session(%s, %s)", s.domain, s.mode)
}
