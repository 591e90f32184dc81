// Package uri parses and renders the collector's destination URIs.
//
// A destination URI has the form "[scheme:]host[:service]", where scheme is
// one of tcp, udp (network destinations) or file, flush (local files, flush
// meaning fsync-per-record). IPv6 hosts are written bracketed, e.g.
// "tcp:[::1]:5001", and colons inside brackets are part of the host, not
// separators.
package uri

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a destination URI cannot be parsed.
var ErrMalformed = errors.New("uri: malformed destination")

// Destination is a parsed collection URI.
type Destination struct {
	Scheme  string // "" if no scheme was given
	Host    string
	Service string // "" if no service/port was given
}

// HasScheme reports whether the URI specified an explicit scheme.
func (d Destination) HasScheme() bool { return d.Scheme != "" }

// HasService reports whether the URI specified an explicit service/port.
func (d Destination) HasService() bool { return d.Service != "" }

// IsFile reports whether the destination names a local file sink.
func (d Destination) IsFile() bool { return isFileScheme(d.Scheme) }

// IsNetwork reports whether the destination names a network sink.
// A destination with no scheme at all defaults to network (tcp), per
// the collector's "unknown scheme falls back to tcp" rule.
func (d Destination) IsNetwork() bool { return !d.IsFile() }

// String renders the destination back into URI form. Round-tripping
// Parse(d.String()) reproduces d for any d built from a scheme in
// {tcp, udp, file, flush} with a non-empty Host.
func (d Destination) String() string {
	var b strings.Builder
	if d.Scheme != "" {
		b.WriteString(d.Scheme)
		b.WriteByte(':')
	}
	host := d.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	b.WriteString(host)
	if d.Service != "" {
		b.WriteByte(':')
		b.WriteString(d.Service)
	}
	return b.String()
}

func isNetworkScheme(s string) bool {
	return s == "tcp" || s == "udp"
}

func isFileScheme(s string) bool {
	return s == "file" || s == "flush"
}

func isKnownScheme(s string) bool {
	return isNetworkScheme(s) || isFileScheme(s)
}

// Parse splits a destination URI into scheme, host, and service parts.
// Accepts the three shapes described in the package doc: bare "host",
// "host:service", and "scheme:host[:service]", with bracketed IPv6 hosts
// in any of them. An empty URI is an error. A scheme that isn't one of
// tcp/udp/file/flush defaults to tcp and is logged at warn level. A file
// or flush scheme with a trailing service token is rejected.
func Parse(s string) (Destination, error) {
	if s == "" {
		return Destination{}, fmt.Errorf("%w: empty URI", ErrMalformed)
	}

	if idx := strings.IndexByte(s, '['); idx >= 0 {
		return parseBracketed(s, idx)
	}

	parts := strings.SplitN(s, ":", 3)
	switch len(parts) {
	case 1:
		host := parts[0]
		if isKnownScheme(host) {
			slog.Warn("uri: destination has no host, treating scheme token as a literal host", "uri", s)
		}
		return Destination{Host: host}, nil

	case 2:
		first, second := parts[0], parts[1]
		if isKnownScheme(first) {
			if isFileScheme(first) {
				return Destination{Scheme: first, Host: second}, nil
			}
			return Destination{Scheme: first, Host: second}, nil
		}
		return Destination{Host: first, Service: second}, nil

	default: // len(parts) == 3
		scheme, host, service := parts[0], parts[1], parts[2]
		if isFileScheme(scheme) {
			return Destination{}, fmt.Errorf("%w: %q scheme does not accept a service (%q)", ErrMalformed, scheme, service)
		}
		if !isNetworkScheme(scheme) {
			slog.Warn("uri: unknown scheme, defaulting to tcp", "scheme", scheme, "uri", s)
			scheme = "tcp"
		}
		return Destination{Scheme: scheme, Host: host, Service: service}, nil
	}
}

// parseBracketed handles URIs containing a bracketed (IPv6) host, where the
// first '[' is at index idx in s.
func parseBracketed(s string, idx int) (Destination, error) {
	end := strings.IndexByte(s[idx:], ']')
	if end < 0 {
		return Destination{}, fmt.Errorf("%w: unterminated bracketed host in %q", ErrMalformed, s)
	}
	end += idx

	pre := s[:idx]
	host := s[idx+1 : end]
	post := s[end+1:]

	scheme := strings.TrimSuffix(pre, ":")
	if scheme != "" && pre == scheme {
		// There was content before '[' that wasn't terminated by ':'.
		return Destination{}, fmt.Errorf("%w: expected ':' before bracketed host in %q", ErrMalformed, s)
	}
	if scheme != "" && isFileScheme(scheme) {
		return Destination{}, fmt.Errorf("%w: %q scheme does not accept a bracketed host", ErrMalformed, scheme)
	}

	var service string
	if post != "" {
		if !strings.HasPrefix(post, ":") {
			return Destination{}, fmt.Errorf("%w: expected ':' after bracketed host in %q", ErrMalformed, s)
		}
		service = post[1:]
	}

	if scheme != "" && !isNetworkScheme(scheme) {
		slog.Warn("uri: unknown scheme, defaulting to tcp", "scheme", scheme, "uri", s)
		scheme = "tcp"
	}

	return Destination{Scheme: scheme, Host: host, Service: service}, nil
}

// ResolveService resolves a textual service name or numeric port string into
// a port number, falling back to defport if the name can't be resolved or
// parsed. Mirrors getservbyname-with-numeric-fallback from the collector's
// original C implementation.
func ResolveService(service string, defport int) int {
	if service == "" {
		return defport
	}
	if port, err := net.LookupPort("tcp", service); err == nil {
		return port
	}
	if n, err := strconv.Atoi(service); err == nil {
		return n
	}
	slog.Warn("uri: could not resolve service, using default port", "service", service, "default", defport)
	return defport
}
