// Package bindaddr resolves user-supplied bind specifications into
// concrete SOCKS5 listener addresses.
package bindaddr

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const DefaultPort = 1080

var (
	ErrInvalidSpec     = errors.New("invalid bind specification")
	ErrPortUnavailable = errors.New("port unavailable")
)

// Spec is a parsed bind specification. Port 0 requests a kernel-assigned
// free port.
type Spec struct {
	Host string
	Port int
}

func (s Spec) String() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Parse accepts "address:port", a bare "port", or the empty string.
// The address defaults to localhost; the empty string requests a
// kernel-assigned port.
func Parse(spec string) (Spec, error) {
	if spec == "" {
		return Spec{Host: "localhost"}, nil
	}

	host := "localhost"
	portStr := spec
	if i := strings.LastIndex(spec, ":"); i >= 0 {
		host, portStr = spec[:i], spec[i+1:]
		if host == "" {
			return Spec{}, fmt.Errorf("%w: %q has no address", ErrInvalidSpec, spec)
		}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Spec{}, fmt.Errorf("%w: %q has no valid port", ErrInvalidSpec, spec)
	}
	return Spec{Host: host, Port: port}, nil
}

// Allocate resolves the spec to a bindable host:port. An explicit port is
// probe-bound once and released; a busy port fails with ErrPortUnavailable.
// Port 0 asks the kernel for a free port. The probe is inherently racy
// against other processes, so the eventual daemon bind remains the
// authoritative signal and callers retry on a late conflict.
func Allocate(spec Spec) (Spec, error) {
	l, err := net.Listen("tcp", spec.String())
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %s: %v", ErrPortUnavailable, spec, err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return Spec{Host: spec.Host, Port: port}, nil
}

// AllocateScan finds a free port starting at spec.Port, walking upward by
// single increments. maxSteps bounds the walk; zero means scan to the end
// of the port range.
func AllocateScan(spec Spec, maxSteps int) (Spec, error) {
	start := spec.Port
	if start == 0 {
		start = DefaultPort
	}
	limit := 65535
	if maxSteps > 0 && start+maxSteps < limit {
		limit = start + maxSteps
	}

	for port := start; port <= limit; port++ {
		if !InUse(spec.Host, port) {
			return Spec{Host: spec.Host, Port: port}, nil
		}
	}
	return Spec{}, fmt.Errorf("%w: no free port in %s:%d-%d", ErrPortUnavailable, spec.Host, start, limit)
}

// InUse reports whether something is currently accepting connections on
// host:port.
func InUse(host string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 250*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
