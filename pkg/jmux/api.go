package jmux

import (
	"net"
	"sync"
)

// IncomingChannelRequest represents a peer's OPEN request that already
// passed Policy filtering and awaits an explicit accept-or-reject decision
// from the local application (spec §6). This two-step shape — the Proxy
// reserves a local channel id and hands back a request object rather than
// deciding unilaterally — lets a caller dial several candidate forwarding
// targets, or race an open against a timeout, before ever committing a
// local resource (a dialed socket, a spawned goroutine) to one specific
// channel.
type IncomingChannelRequest struct {
	// Destination is the URL the peer asked to open a channel to.
	Destination DestinationURL

	proxy            *Proxy
	localID          uint32
	distantID        uint32
	distantWindow    uint32
	distantMaxPacket uint16

	once sync.Once
}

// Accept completes the handshake, sending OPEN_SUCCESS to the peer and
// returning a ready-to-use Channel. Calling Accept or Reject a second time on
// the same request is a no-op returning ErrChannelClosed.
func (r *IncomingChannelRequest) Accept() (*Channel, error) {
	return r.proxy.acceptIncoming(r)
}

// Reject completes the handshake by sending OPEN_FAILURE to the peer with the
// given reason and human-readable description. Use this for rejections where
// no connection attempt was ever made (e.g. Policy denial), which emit no
// audit event.
func (r *IncomingChannelRequest) Reject(reason ReasonCode, description string) error {
	return r.proxy.rejectIncoming(r, reason, description)
}

// RejectConnectFailure completes the handshake like Reject, but additionally
// emits a ConnectFailure audit event carrying targetIP, the address of the
// forwarding attempt that failed. Use this when a connection to the
// forwarding target was actually attempted and failed (refused, timed out,
// unreachable) — as opposed to a DNS failure, where no IP was ever attempted
// and no audit event should be emitted at all.
func (r *IncomingChannelRequest) RejectConnectFailure(reason ReasonCode, description string, targetIP net.IP) error {
	return r.proxy.rejectIncomingConnectFailure(r, reason, description, targetIP)
}

// Accept blocks until an inbound OPEN request has passed Policy filtering, or
// the Proxy is closed. Callers typically loop over Accept in a dedicated
// goroutine, handing each request off to a Forwarder.
func (p *Proxy) Accept() (*IncomingChannelRequest, error) {
	select {
	case request := <-p.acceptCh:
		return request, nil
	case <-p.closed:
		return nil, ErrProxyClosed
	}
}
