// Package webapi is a client for the Steam Web API. A Session hands out
// Interfaces, an Interface hands out Methods, and a Method opens a Connector
// that performs the GET request and decodes the JSON reply. Replies can be
// kept in any cacher.Cacher and revalidated with If-Modified-Since.
package webapi

import (
	"errors"
	"fmt"
	"net/url"
)

// DefaultDomain is the host requests are sent to unless overridden.
const DefaultDomain = "api.steampowered.com"

var (
	// ErrUnknownOption is returned by NewRequestURI for an option it does
	// not recognise.
	ErrUnknownOption = errors.New("webapi: unknown request option")

	// ErrOptionType is returned by NewRequestURI when an option has the
	// wrong type.
	ErrOptionType = errors.New("webapi: bad request option type")
)

// Arguments are the query parameters of a request.
type Arguments map[string]string

// Merge returns a new set holding a overlaid with b.
func (a Arguments) Merge(b Arguments) Arguments {
	out := make(Arguments, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}

	return out
}

// RequestURI names one Web API call.
type RequestURI struct {
	Domain    string
	Interface string
	Method    string
	Version   int
	Arguments Arguments
}

// NewRequestURI builds a RequestURI from named options: "interface",
// "method", "version", "domain" and "arguments". Omitted options take their
// zero value, except domain which defaults to DefaultDomain.
func NewRequestURI(options map[string]any) (RequestURI, error) {
	r := RequestURI{Domain: DefaultDomain, Arguments: Arguments{}}

	for k, v := range options {
		var ok bool
		switch k {
		case "interface":
			r.Interface, ok = v.(string)
		case "method":
			r.Method, ok = v.(string)
		case "domain":
			r.Domain, ok = v.(string)
		case "version":
			r.Version, ok = v.(int)
		case "arguments":
			r.Arguments, ok = toArguments(v)
		default:
			return RequestURI{}, fmt.Errorf("%w: %q", ErrUnknownOption, k)
		}

		if !ok {
			return RequestURI{}, fmt.Errorf("%w: %q is %T", ErrOptionType, k, v)
		}
	}

	return r, nil
}

func toArguments(v any) (Arguments, bool) {
	switch args := v.(type) {
	case Arguments:
		return args, true
	case map[string]string:
		return Arguments(args), true
	case map[string]any:
		out := make(Arguments, len(args))
		for k, v := range args {
			out[k] = fmt.Sprint(v)
		}
		return out, true
	default:
		return nil, false
	}
}

// URL returns the request as a *url.URL.
func (r RequestURI) URL() *url.URL {
	q := url.Values{}
	for k, v := range r.Arguments {
		q.Set(k, v)
	}

	return &url.URL{
		Scheme:   "http",
		Host:     r.Domain,
		Path:     fmt.Sprintf("/%s/%s/v%04d", r.Interface, r.Method, r.Version),
		RawQuery: q.Encode(),
	}
}

// String formats the request as
// http://<domain>/<interface>/<method>/v<version>?<arguments>, with the
// version zero padded to four digits and the arguments sorted by name. The
// "?" is present even without arguments; the string is also the cache key.
func (r RequestURI) String() string {
	u := r.URL()
	u.ForceQuery = true
	return u.String()
}
