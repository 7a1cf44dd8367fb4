package jmux

import (
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/devolutions/jmux-go/pkg/jmux/ring"
)

// channelState is a channel's position in the state machine of spec §4.3.
type channelState int

const (
	stateOpening channelState = iota
	stateAcceptPending
	stateEstablished
	stateEOFSent
	stateEOFReceived
	stateClosingBoth
	stateClosed
)

func (s channelState) String() string {
	switch s {
	case stateOpening:
		return "opening"
	case stateAcceptPending:
		return "accept-pending"
	case stateEstablished:
		return "established"
	case stateEOFSent:
		return "eof-sent"
	case stateEOFReceived:
		return "eof-received"
	case stateClosingBoth:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is a single multiplexed stream, implementing net.Conn. A Channel is
// created either by OpenChannel (the local side initiated it) or delivered to
// a Proxy's accept backlog (the distant side initiated it); spec §4.2-§4.3.
type Channel struct {
	proxy *Proxy

	localID   uint32
	distantID uint32

	maximumPacketSize uint16

	// destination is populated for inbound channels (what the peer asked to
	// open) and for outbound channels (what we asked the peer to open).
	destination DestinationURL

	stateLock sync.Mutex
	state     channelState

	// sendWindow is the number of bytes we may still transmit before the
	// distant peer issues a WINDOW_ADJUST. Guarded by sendLock, and signaled
	// via sendAvailable whenever it increases from zero.
	sendLock      sync.Mutex
	sendWindow    uint32
	sendAvailable chan struct{}

	// recvBuffer holds DATA payload bytes received but not yet consumed by
	// Read. recvLock also guards recvWindowConsumed, the number of bytes
	// drained from recvBuffer since the last WINDOW_ADJUST we emitted.
	recvLock           sync.Mutex
	recvBuffer         *ring.Buffer
	recvWindowConsumed int
	recvReady          chan struct{}
	recvEOF            bool

	// outboundData holds payload chunks already sized to fit within both the
	// advertised send window and maximum packet size, awaiting pickup by the
	// sender task's round-robin scheduler (spec §4.4).
	outboundData chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	readDeadline  deadline
	writeDeadline deadline

	// audit bookkeeping; guarded by stateLock.
	auditFired   bool
	connectAt    time.Time
	bytesTx      uint64
	bytesRx      uint64
	outcome      EventOutcome
	outcomeSet   bool
	targetIP     net.IP
	failureCause error
}

func newChannel(proxy *Proxy, localID, distantID uint32, maximumPacketSize uint16, destination DestinationURL, recvWindow int) *Channel {
	return &Channel{
		proxy:             proxy,
		localID:           localID,
		distantID:         distantID,
		maximumPacketSize: maximumPacketSize,
		destination:       destination,
		state:             stateOpening,
		sendAvailable:     make(chan struct{}, 1),
		recvBuffer:        ring.NewBuffer(recvWindow),
		recvReady:         make(chan struct{}, 1),
		outboundData:      make(chan []byte, proxy.configuration.OutboundQueueDepth),
		closed:            make(chan struct{}),
		connectAt:         proxy.now(),
	}
}

// LocalID returns the identifier this side of the connection assigned to the
// channel.
func (c *Channel) LocalID() uint32 { return c.localID }

// DistantID returns the identifier the peer assigned to the channel, valid
// once the channel has left the Opening/AcceptPending state.
func (c *Channel) DistantID() uint32 { return c.distantID }

// Destination returns the destination URL the channel was opened against.
func (c *Channel) Destination() DestinationURL { return c.destination }

// LocalAddr implements net.Conn.
func (c *Channel) LocalAddr() net.Addr { return &channelAddress{id: c.localID} }

// RemoteAddr implements net.Conn.
func (c *Channel) RemoteAddr() net.Addr { return &channelAddress{remote: true, id: c.distantID} }

func (c *Channel) currentState() channelState {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	return c.state
}

// markEstablished transitions a channel we opened out of Opening once the
// peer's OPEN_SUCCESS is received. Accepted channels are created directly in
// the Established state by acceptIncoming.
func (c *Channel) markEstablished(distantID uint32, sendWindow uint32, maximumPacketSize uint16, targetIP net.IP) {
	c.stateLock.Lock()
	c.distantID = distantID
	c.maximumPacketSize = maximumPacketSize
	c.targetIP = targetIP
	if c.state == stateOpening || c.state == stateAcceptPending {
		c.state = stateEstablished
	}
	c.stateLock.Unlock()

	c.sendLock.Lock()
	c.sendWindow = sendWindow
	c.sendLock.Unlock()
	c.signalSendAvailable()
}

// Read implements net.Conn. It blocks until at least one byte of payload is
// available, EOF is received from the peer, or the channel is closed.
func (c *Channel) Read(b []byte) (int, error) {
	timeout := c.readDeadline.channel()
	for {
		c.recvLock.Lock()
		if c.recvBuffer.Used() > 0 {
			n, _ := c.recvBuffer.Read(b)
			c.recvWindowConsumed += n
			threshold := c.proxy.configuration.windowAdjustThreshold()
			consumed := c.recvWindowConsumed
			if consumed >= threshold {
				c.recvWindowConsumed = 0
			}
			c.recvLock.Unlock()
			if consumed >= threshold {
				c.proxy.sendWindowAdjust(c, uint32(consumed))
			}
			return n, nil
		}
		eof := c.recvEOF
		c.recvLock.Unlock()
		if eof {
			return 0, io.EOF
		}

		select {
		case <-c.recvReady:
		case <-c.closed:
			return 0, ErrChannelClosed
		case <-timeout:
			return 0, errTimeout{}
		}
	}
}

// deliverData is invoked by the receiver task when a DATA frame arrives for
// this channel. Payload that would overflow the advertised receive window
// indicates a protocol violation by the peer.
func (c *Channel) deliverData(payload []byte) error {
	c.recvLock.Lock()
	if c.recvBuffer.Free() < len(payload) {
		c.recvLock.Unlock()
		return newFatalProtocolError(errors.Errorf("peer sent %d bytes exceeding channel %d's advertised receive window", len(payload), c.localID))
	}
	_, _ = c.recvBuffer.Write(payload)
	c.recvLock.Unlock()

	c.stateLock.Lock()
	c.bytesRx += uint64(len(payload))
	c.stateLock.Unlock()

	c.signalRecvReady()
	return nil
}

// deliverEOF is invoked by the receiver task on an EOF frame.
func (c *Channel) deliverEOF() {
	c.recvLock.Lock()
	c.recvEOF = true
	c.recvLock.Unlock()
	c.signalRecvReady()

	c.stateLock.Lock()
	switch c.state {
	case stateEOFSent:
		c.state = stateClosingBoth
	case stateEstablished, stateAcceptPending, stateOpening:
		c.state = stateEOFReceived
	}
	c.stateLock.Unlock()
}

// Write implements net.Conn. It fragments the payload to fit the advertised
// maximum packet size and the currently available send window, blocking
// while the window is exhausted (spec §4.4).
func (c *Channel) Write(b []byte) (int, error) {
	timeout := c.writeDeadline.channel()
	total := 0
	for len(b) > 0 {
		if c.currentState() == stateEOFSent || c.currentState() == stateClosingBoth || c.currentState() == stateClosed {
			return total, ErrChannelWriteClosed
		}

		c.sendLock.Lock()
		available := c.sendWindow
		c.sendLock.Unlock()
		if available == 0 {
			select {
			case <-c.sendAvailable:
				continue
			case <-c.closed:
				return total, ErrChannelClosed
			case <-timeout:
				return total, errTimeout{}
			}
		}

		chunk := len(b)
		if uint32(chunk) > available {
			chunk = int(available)
		}
		if chunk > int(c.maximumPacketSize) {
			chunk = int(c.maximumPacketSize)
		}
		if chunk > maximumDataPayload {
			chunk = maximumDataPayload
		}

		if err := c.proxy.enqueueData(c, b[:chunk]); err != nil {
			return total, err
		}

		c.sendLock.Lock()
		c.sendWindow -= uint32(chunk)
		c.sendLock.Unlock()

		c.stateLock.Lock()
		c.bytesTx += uint64(chunk)
		c.stateLock.Unlock()

		total += chunk
		b = b[chunk:]
	}
	return total, nil
}

// creditSendWindow is invoked by the receiver task on a WINDOW_ADJUST frame.
// A peer that advertises an increment which would overflow the u32 window
// counter is misbehaving; the caller must treat the returned error as fatal
// (spec §9).
func (c *Channel) creditSendWindow(delta uint32) error {
	c.sendLock.Lock()
	defer c.sendLock.Unlock()
	if delta > math.MaxUint32-c.sendWindow {
		return errors.Errorf(
			"WINDOW_ADJUST overflow: current window %d plus delta %d exceeds u32",
			c.sendWindow, delta,
		)
	}
	c.sendWindow += delta
	c.signalSendAvailable()
	return nil
}

func (c *Channel) signalSendAvailable() {
	select {
	case c.sendAvailable <- struct{}{}:
	default:
	}
}

func (c *Channel) signalRecvReady() {
	select {
	case c.recvReady <- struct{}{}:
	default:
	}
}

// Close implements net.Conn: it both stops sending and stops accepting
// further reads, sending a CLOSE frame to the peer exactly once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stateLock.Lock()
		if !c.outcomeSet {
			c.outcome = NormalTermination
			c.outcomeSet = true
		}
		c.state = stateClosed
		c.stateLock.Unlock()

		close(c.closed)
		err = c.proxy.sendClose(c)
		c.proxy.finalizeChannel(c)
	})
	return err
}

// closeFromPeer tears a channel down locally in response to a CLOSE frame
// received from the peer. It shares closeOnce with Close so that a
// subsequent local Close call becomes a harmless no-op rather than sending a
// redundant CLOSE frame.
func (c *Channel) closeFromPeer() {
	c.closeOnce.Do(func() {
		c.stateLock.Lock()
		if !c.outcomeSet {
			c.outcome = NormalTermination
			c.outcomeSet = true
		}
		c.state = stateClosed
		c.stateLock.Unlock()

		close(c.closed)
		c.proxy.finalizeChannel(c)
	})
}

// failWithError tears a channel down following a transport-level error,
// recording an AbnormalTermination outcome unless one has already been
// recorded (e.g. a normal Close racing with the failure).
func (c *Channel) failWithError(cause error) {
	c.closeOnce.Do(func() {
		c.stateLock.Lock()
		if !c.outcomeSet {
			c.outcome = AbnormalTermination
			c.outcomeSet = true
			c.failureCause = cause
		}
		c.state = stateClosed
		c.stateLock.Unlock()

		close(c.closed)
		c.proxy.finalizeChannel(c)
	})
}

// markOpenFailed records that an outbound OpenChannel request was rejected by
// the peer (an OPEN_FAILURE frame) or otherwise could never be established.
// The channel was never returned to any caller, so there is nothing to wake
// beyond the pending open's reply and the audit emission at finalize time.
func (c *Channel) markOpenFailed(cause error) {
	c.closeOnce.Do(func() {
		c.stateLock.Lock()
		c.outcome = ConnectFailure
		c.outcomeSet = true
		c.failureCause = cause
		c.state = stateClosed
		c.stateLock.Unlock()
		close(c.closed)
		c.proxy.finalizeChannel(c)
	})
}

// emitAudit fires the channel's TrafficEvent exactly once, at cleanup time
// (spec §4.7).
func (c *Channel) emitAudit() {
	c.stateLock.Lock()
	if c.auditFired {
		c.stateLock.Unlock()
		return
	}
	c.auditFired = true
	outcome := c.outcome
	bytesTx, bytesRx := c.bytesTx, c.bytesRx
	connectAt := c.connectAt
	targetIP := c.targetIP
	c.stateLock.Unlock()

	disconnectAt := c.proxy.now()
	c.proxy.audit(TrafficEvent{
		ConnectionID:   c.proxy.id,
		Outcome:        outcome,
		Protocol:       TransportTCP,
		TargetHost:     c.destination.Host(),
		TargetIP:       targetIP,
		TargetPort:     c.destination.Port(),
		ConnectAt:      connectAt,
		DisconnectAt:   disconnectAt,
		ActiveDuration: saturatingDuration(connectAt, disconnectAt),
		BytesTx:        bytesTx,
		BytesRx:        bytesRx,
	})
}

// CloseWrite half-closes the channel, sending an EOF frame. Reads may
// continue until the peer's own EOF or CLOSE arrives.
func (c *Channel) CloseWrite() error {
	c.stateLock.Lock()
	switch c.state {
	case stateEOFReceived:
		c.state = stateClosingBoth
	case stateEstablished, stateOpening, stateAcceptPending:
		c.state = stateEOFSent
	default:
		c.stateLock.Unlock()
		return nil
	}
	c.stateLock.Unlock()
	return c.proxy.sendEOF(c)
}

// SetDeadline implements net.Conn.
func (c *Channel) SetDeadline(t time.Time) error {
	c.readDeadline.set(t)
	c.writeDeadline.set(t)
	return nil
}

// SetReadDeadline implements net.Conn.
func (c *Channel) SetReadDeadline(t time.Time) error {
	c.readDeadline.set(t)
	return nil
}

// SetWriteDeadline implements net.Conn.
func (c *Channel) SetWriteDeadline(t time.Time) error {
	c.writeDeadline.set(t)
	return nil
}

// deadline implements a resettable, goroutine-safe timer usable as a select
// case, following the teacher's read/write deadline pattern.
type deadline struct {
	mu    sync.Mutex
	timer *time.Timer
	ch    chan struct{}
}

func (d *deadline) channel() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ch == nil {
		d.ch = make(chan struct{})
	}
	return d.ch
}

func (d *deadline) set(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	if d.ch == nil {
		d.ch = make(chan struct{})
	} else {
		select {
		case <-d.ch:
			d.ch = make(chan struct{})
		default:
		}
	}
	if t.IsZero() {
		return
	}
	duration := time.Until(t)
	if duration <= 0 {
		close(d.ch)
		return
	}
	ch := d.ch
	d.timer = time.AfterFunc(duration, func() {
		close(ch)
	})
}

// errTimeout is returned by Read/Write when a deadline elapses.
type errTimeout struct{}

func (errTimeout) Error() string   { return "jmux: i/o timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }
