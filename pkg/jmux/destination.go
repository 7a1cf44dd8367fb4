package jmux

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DestinationURL is the `<scheme, host, port>` tuple carried in an OPEN
// message (spec §3). The JMUX core treats scheme as opaque forward-to-filter
// metadata; schemes encountered in practice are tcp, udp, ws, wss, and tls.
type DestinationURL struct {
	scheme string
	host   string
	port   uint16
}

// NewDestinationURL constructs a DestinationURL directly, normalizing the
// host the same way ParseDestinationURL does.
func NewDestinationURL(scheme, host string, port uint16) DestinationURL {
	return DestinationURL{scheme: scheme, host: normalizeHost(host), port: port}
}

// ParseDestinationURL parses a string of the form scheme://host:port. IP
// literals are preserved verbatim; names are lowercased.
func ParseDestinationURL(raw string) (DestinationURL, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok || scheme == "" {
		return DestinationURL{}, errors.Errorf("invalid destination URL %q: missing scheme", raw)
	}
	host, portStr, ok := cutLastColon(rest)
	if !ok || host == "" || portStr == "" {
		return DestinationURL{}, errors.Errorf("invalid destination URL %q: missing host or port", raw)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return DestinationURL{}, errors.Wrapf(err, "invalid destination URL %q: bad port", raw)
	}
	return NewDestinationURL(scheme, host, uint16(port)), nil
}

// cutLastColon splits on the final colon, which correctly separates a port
// from a bracketed IPv6 literal (e.g. "[::1]:22") or a bare hostname/IPv4.
func cutLastColon(s string) (string, string, bool) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+1:], true
}

// normalizeHost preserves IP literals verbatim and lowercases names.
func normalizeHost(host string) string {
	trimmed := strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	if looksLikeIP(trimmed) {
		return host
	}
	return strings.ToLower(host)
}

func looksLikeIP(s string) bool {
	return net.ParseIP(s) != nil
}

// Scheme returns the destination's scheme component (e.g. "tcp", "ws").
func (u DestinationURL) Scheme() string { return u.scheme }

// Host returns the destination's normalized host component.
func (u DestinationURL) Host() string { return u.host }

// Port returns the destination's port.
func (u DestinationURL) Port() uint16 { return u.port }

// Address returns the "host:port" form suitable for net.Dial.
func (u DestinationURL) Address() string {
	return u.host + ":" + strconv.FormatUint(uint64(u.port), 10)
}

// String renders the destination in scheme://host:port form.
func (u DestinationURL) String() string {
	return u.scheme + "://" + u.Address()
}
