package webapi

import (
	"fmt"

	"github.com/medcat/steam-mist/safemap"
)

// Interface is one Web API interface, such as ISteamUser.
type Interface struct {
	session *Session
	name    string

	methods *safemap.SafeMap[string, *Method]
}

// Name returns the name the interface was requested with.
func (i *Interface) Name() string {
	return i.name
}

// APIName returns the name used in request paths.
func (i *Interface) APIName() string {
	return InterfaceAPIName(i.name)
}

// Session returns the session the interface belongs to.
func (i *Interface) Session() *Session {
	return i.session
}

// Method returns version of the method called name, creating it on first
// use. Versions below 1 mean 1. Every call with the same name and version
// returns the same *Method.
func (i *Interface) Method(name string, version int) *Method {
	if version < 1 {
		version = 1
	}

	key := fmt.Sprintf("%s/%d", name, version)
	if m, ok := i.methods.Load(key); ok {
		return m
	}

	m, _ := i.methods.LoadOrStore(key, &Method{
		iface:     i,
		name:      name,
		version:   version,
		arguments: Arguments{},
	})
	return m
}

func (i *Interface) String() string {
	return fmt.Sprintf("webapi.Interface(%s)", i.name)
}
