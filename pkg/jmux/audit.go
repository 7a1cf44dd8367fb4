package jmux

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// TransportProtocol identifies the transport protocol of a traffic item.
// Udp is reserved for protocol neutrality; this implementation only ever
// opens TCP channels today and so only ever reports Tcp.
type TransportProtocol int

const (
	TransportTCP TransportProtocol = iota
	TransportUDP
)

func (p TransportProtocol) String() string {
	if p == TransportUDP {
		return "udp"
	}
	return "tcp"
}

// EventOutcome classifies how a channel's lifecycle ended (spec §4.7).
type EventOutcome int

const (
	// ConnectFailure: no data path was ever established. bytes_tx = bytes_rx
	// = 0 and disconnect_at == connect_at. Never emitted for a bare DNS
	// failure (no IP was ever attempted).
	ConnectFailure EventOutcome = iota
	// NormalTermination: the data path was established and closed cleanly.
	NormalTermination
	// AbnormalTermination: the data path was established but the channel
	// ended with an error (transport reset, write error, forced teardown).
	AbnormalTermination
)

func (o EventOutcome) String() string {
	switch o {
	case ConnectFailure:
		return "connect_failure"
	case NormalTermination:
		return "normal_termination"
	case AbnormalTermination:
		return "abnormal_termination"
	default:
		return "unknown"
	}
}

// TrafficEvent is the single end-of-lifecycle audit record emitted per
// channel (spec §4.7). Exactly one is emitted per channel created by
// OpenChannel or IncomingChannelRequest.Accept; an OpenChannel call abandoned
// through its context or through Proxy shutdown still emits a ConnectFailure
// event. An inbound request resolved with Reject (a filter denial or DNS
// failure) emits none; one resolved with RejectConnectFailure emits a
// ConnectFailure event.
type TrafficEvent struct {
	// ConnectionID identifies the Proxy (and thus the Carrier/transport) this
	// channel belonged to, for correlating events from the same JMUX run.
	ConnectionID uuid.UUID

	Outcome  EventOutcome
	Protocol TransportProtocol

	// TargetHost is the raw, pre-DNS host string requested by the peer.
	TargetHost string
	// TargetIP is the address last attempted, set only on the ConnectFailure
	// event emitted by IncomingChannelRequest.RejectConnectFailure. Events for
	// channels created by OpenChannel or Accept leave it nil; the address an
	// accepted channel was forwarded to is not recorded.
	TargetIP net.IP
	// TargetPort is the destination port.
	TargetPort uint16

	ConnectAt    time.Time
	DisconnectAt time.Time
	// ActiveDuration is DisconnectAt.Sub(ConnectAt), saturated at zero.
	ActiveDuration time.Duration

	BytesTx uint64
	BytesRx uint64
}

func saturatingDuration(connectAt, disconnectAt time.Time) time.Duration {
	d := disconnectAt.Sub(connectAt)
	if d < 0 {
		return 0
	}
	return d
}

// AuditFunc is the type-erased traffic audit callback (spec §4.7 and the
// Rust original's event.rs). It is invoked synchronously, at most once per
// channel, at cleanup time. It must not block: offload any I/O-bound work
// (database writes, remote logging) onto a background goroutine or channel
// from within the callback.
type AuditFunc func(TrafficEvent)

// noopAudit is used when a Proxy is constructed without an explicit audit
// callback.
func noopAudit(TrafficEvent) {}
