package webapi

import (
	"context"
	"fmt"
	"sync"
)

// Method is one call of an Interface at a given version. A Method is never
// modified once handed out: the With methods return a changed copy, each
// with its own Connector.
type Method struct {
	iface     *Interface
	name      string
	version   int
	arguments Arguments
	cache     *CachePolicy

	mu        sync.Mutex
	connector *Connector
}

// Name returns the name the method was requested with.
func (m *Method) Name() string {
	return m.name
}

// APIName returns the name used in request paths.
func (m *Method) APIName() string {
	return MethodAPIName(m.name)
}

// Version returns the method version.
func (m *Method) Version() int {
	return m.version
}

// Interface returns the interface the method belongs to.
func (m *Method) Interface() *Interface {
	return m.iface
}

// Arguments returns a copy of the method's own arguments.
func (m *Method) Arguments() Arguments {
	return Arguments{}.Merge(m.arguments)
}

// Cached reports whether responses go through a cache.
func (m *Method) Cached() bool {
	return m.cache != nil
}

func (m *Method) clone() *Method {
	c := &Method{
		iface:     m.iface,
		name:      m.name,
		version:   m.version,
		arguments: Arguments{}.Merge(m.arguments),
	}
	if m.cache != nil {
		policy := *m.cache
		c.cache = &policy
	}

	return c
}

// WithArguments returns a copy with args merged over the current arguments.
func (m *Method) WithArguments(args Arguments) *Method {
	c := m.clone()
	c.arguments = c.arguments.Merge(args)
	return c
}

// WithVersion returns a copy at another version.
func (m *Method) WithVersion(version int) *Method {
	c := m.clone()
	c.version = version
	return c
}

// WithCaching returns a copy whose connector reads and writes policy.
func (m *Method) WithCaching(policy CachePolicy) *Method {
	c := m.clone()
	c.cache = &policy
	return c
}

// WithoutCaching returns a copy that always requests.
func (m *Method) WithoutCaching() *Method {
	c := m.clone()
	c.cache = nil
	return c
}

// RequestURI returns the request for this method. Session default
// arguments are overridden by the method's own.
func (m *Method) RequestURI() RequestURI {
	s := m.iface.session

	return RequestURI{
		Domain:    s.Domain(),
		Interface: m.iface.APIName(),
		Method:    m.APIName(),
		Version:   m.version,
		Arguments: s.DefaultArguments().Merge(m.arguments),
	}
}

// Get returns the method's connector, opening it on first use. An eager
// session performs the request here and returns its error; the connector is
// only kept once that request succeeds.
func (m *Method) Get(ctx context.Context) (*Connector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connector != nil {
		return m.connector, nil
	}

	s := m.iface.session
	c := NewConnector(m.RequestURI(), s.client, m.cache, s.log)
	if s.mode == Eager {
		if _, err := c.Refresh(ctx, false); err != nil {
			return nil, err
		}
	}

	m.connector = c
	return c, nil
}

func (m *Method) String() string {
	return fmt.Sprintf("webapi.Method(%s/%s)", m.iface.name, m.name)
}
