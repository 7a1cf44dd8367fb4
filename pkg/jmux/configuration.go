package jmux

import "time"

// Configuration encodes Proxy flow-control and scheduling tunables. Pair it
// with a Policy (filter.go) to obtain a full runtime configuration; the two
// are separated because Policy is frequently loaded from an external file
// while Configuration is usually left at its defaults.
type Configuration struct {
	// StreamReceiveWindow is the size, in bytes, advertised as each channel's
	// initial_window_size and used to size its local receive buffer. The
	// default is 64KiB - 1, the largest value that still fits comfortably
	// alongside a maximum_packet_size-sized DATA frame.
	StreamReceiveWindow int
	// MaximumPacketSize is the maximum_packet_size advertised for each
	// channel we open or accept; it bounds the payload of any single DATA
	// frame we send. The default is 32KiB.
	MaximumPacketSize uint16
	// WindowAdjustThresholdFraction sets the low-water mark, as a fraction of
	// StreamReceiveWindow, below which a WINDOW_ADJUST is emitted to reclaim
	// consumed receive window (spec §4.3 recommends one half).
	WindowAdjustThresholdFraction float64
	// OutboundQueueDepth is the number of pending write fragments buffered
	// per channel before Write blocks (spec §5's per-channel outbound pipe).
	OutboundQueueDepth int
	// WriteBufferCount is normalized but not consulted by the sender task,
	// which encodes every frame into a freshly allocated buffer.
	WriteBufferCount int
	// AcceptBacklog is the maximum number of concurrent pending inbound open
	// requests. Additional OPEN requests are rejected with
	// ReasonCapacityExhausted.
	AcceptBacklog int
	// HeartbeatTransmitInterval is unused at the JMUX protocol level (spec §5
	// mandates no protocol-level timeouts) but is left available for a
	// Carrier implementation layered with its own heartbeat, matching the
	// teacher's multiplexer configuration shape.
	HeartbeatTransmitInterval time.Duration
	// ForwardKeepAliveIdle is the TCP keepalive idle period applied to each
	// dialed forwarding leg (see Forwarder.Dial). Zero disables keepalive
	// tuning and leaves the OS default in place.
	ForwardKeepAliveIdle time.Duration
}

// DefaultConfiguration returns the default Proxy configuration.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		StreamReceiveWindow:           (1 << 16) - 1,
		MaximumPacketSize:             1 << 15,
		WindowAdjustThresholdFraction: 0.5,
		OutboundQueueDepth:            8,
		WriteBufferCount:              5,
		AcceptBacklog:                 10,
		HeartbeatTransmitInterval:     5 * time.Second,
		ForwardKeepAliveIdle:          30 * time.Second,
	}
}

// normalize clamps out-of-range configuration values to safe minimums,
// following the teacher's Configuration.normalize pattern.
func (c *Configuration) normalize() {
	if c.StreamReceiveWindow <= 0 {
		c.StreamReceiveWindow = 1
	}
	if c.MaximumPacketSize == 0 {
		c.MaximumPacketSize = 1 << 15
	}
	if c.WindowAdjustThresholdFraction <= 0 || c.WindowAdjustThresholdFraction > 1 {
		c.WindowAdjustThresholdFraction = 0.5
	}
	if c.OutboundQueueDepth <= 0 {
		c.OutboundQueueDepth = 1
	}
	if c.WriteBufferCount <= 0 {
		c.WriteBufferCount = 1
	}
	if c.AcceptBacklog <= 0 {
		c.AcceptBacklog = 1
	}
	if c.HeartbeatTransmitInterval < 0 {
		c.HeartbeatTransmitInterval = 0
	}
	if c.ForwardKeepAliveIdle < 0 {
		c.ForwardKeepAliveIdle = 0
	}
}

// windowAdjustThreshold computes how many bytes Read must consume since the
// last WINDOW_ADJUST before emitting another: the point at which the
// unreclaimed receive window has dropped to the low-water mark.
func (c *Configuration) windowAdjustThreshold() int {
	threshold := int(float64(c.StreamReceiveWindow) * (1 - c.WindowAdjustThresholdFraction))
	if threshold <= 0 {
		threshold = 1
	}
	return threshold
}
