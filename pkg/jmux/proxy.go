package jmux

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/devolutions/jmux-go/pkg/logging"
)

// openResult is delivered to a pending OpenChannel call once the peer
// replies with either OPEN_SUCCESS or OPEN_FAILURE.
type openResult struct {
	channel *Channel
	err     error
}

// Proxy is a single JMUX endpoint multiplexing channels over one Carrier
// (spec §4, §6). Two Proxies, one per end of a Carrier, form a symmetric
// pair: either side may open channels toward the other, subject to the
// other's Policy.
type Proxy struct {
	id            uuid.UUID
	carrier       Carrier
	configuration *Configuration
	policy        Policy
	audit         AuditFunc
	logger        *logging.Logger

	registry *registry
	sender   *sender
	receiver *receiver
	even     bool

	pendingLock  sync.Mutex
	pendingOpens map[uint32]chan openResult

	acceptCh chan *IncomingChannelRequest

	runOnce sync.Once

	closeOnce sync.Once
	closed    chan struct{}

	errLock     sync.Mutex
	terminalErr error
}

// NewProxy constructs a Proxy around carrier. initiator determines which
// parity of local channel identifiers this side allocates (spec §4.2); the
// two ends of a single Carrier must pass opposite values. A nil
// configuration falls back to DefaultConfiguration; the zero Policy value
// denies everything, like DefaultPolicy. A nil audit callback disables traffic
// auditing. A nil logger disables logging.
func NewProxy(carrier Carrier, initiator bool, configuration *Configuration, policy Policy, audit AuditFunc, logger *logging.Logger) *Proxy {
	if configuration == nil {
		configuration = DefaultConfiguration()
	} else {
		copied := *configuration
		configuration = &copied
		configuration.normalize()
	}
	if audit == nil {
		audit = noopAudit
	}
	if logger == nil {
		logger = &logging.Logger{}
	}

	p := &Proxy{
		id:            uuid.New(),
		carrier:       carrier,
		configuration: configuration,
		policy:        policy,
		audit:         audit,
		logger:        logger,
		registry:      newRegistry(initiator),
		even:          initiator,
		pendingOpens:  make(map[uint32]chan openResult),
		acceptCh:      make(chan *IncomingChannelRequest, configuration.AcceptBacklog),
		closed:        make(chan struct{}),
	}
	p.sender = newSender(p)
	p.receiver = newReceiver(p)
	return p
}

// Run starts the Proxy's sender and receiver tasks and blocks until the
// Carrier fails, Close is called, or the underlying connection is otherwise
// torn down. It is safe to call Run exactly once; a second call returns
// immediately.
func (p *Proxy) Run() {
	p.runOnce.Do(func() {
		go p.sender.run()
		p.receiver.run()
	})
}

// ID returns this Proxy's connection identifier, generated once at
// construction time and used to correlate log lines and audit events from
// the same JMUX run.
func (p *Proxy) ID() uuid.UUID { return p.id }

// now returns the current time. Extracted to a method so that a future test
// harness can stub it without relying on a package-level variable.
func (p *Proxy) now() time.Time { return time.Now() }

// Closed returns a channel that is closed once the Proxy has shut down.
func (p *Proxy) Closed() <-chan struct{} { return p.closed }

// Err returns the error that caused the Proxy to shut down, if any. It
// returns nil if the Proxy was shut down cleanly via Close.
func (p *Proxy) Err() error {
	p.errLock.Lock()
	defer p.errLock.Unlock()
	return p.terminalErr
}

// fail tears the whole Proxy down following a connection-level error (spec
// §7): every still-open channel is force-closed as described on shutdown,
// and Carrier is closed to unblock the sender task. An error observed after
// the Proxy has already closed is not recorded.
func (p *Proxy) fail(err error) {
	p.errLock.Lock()
	select {
	case <-p.closed:
	default:
		if p.terminalErr == nil {
			p.terminalErr = err
		}
	}
	p.errLock.Unlock()
	p.shutdown()
}

// Close shuts the Proxy down. Every still-open channel is force-closed as
// described on shutdown; no CLOSE frame is sent for it.
func (p *Proxy) Close() error {
	p.shutdown()
	return nil
}

// shutdown force-closes every registered channel: one whose OpenChannel call
// is still awaiting the peer's reply gets a ConnectFailure audit event, every
// other one an AbnormalTermination event (unless an outcome was already
// recorded).
func (p *Proxy) shutdown() {
	p.closeOnce.Do(func() {
		close(p.closed)
		for _, channel := range p.registry.snapshot() {
			if channel.currentState() == stateOpening {
				channel.markOpenFailed(ErrProxyClosed)
			} else {
				channel.failWithError(ErrProxyClosed)
			}
		}
		p.drainPendingOpens()
		_ = p.carrier.Close()
	})
}

func (p *Proxy) drainPendingOpens() {
	p.pendingLock.Lock()
	defer p.pendingLock.Unlock()
	for id, reply := range p.pendingOpens {
		reply <- openResult{err: ErrProxyClosed}
		delete(p.pendingOpens, id)
	}
}

// OpenChannel opens a new channel to destination, blocking until the peer
// replies with OPEN_SUCCESS or OPEN_FAILURE, ctx is cancelled, or the Proxy
// closes (spec §6).
func (p *Proxy) OpenChannel(ctx context.Context, destination DestinationURL) (*Channel, error) {
	select {
	case <-p.closed:
		return nil, ErrProxyClosed
	default:
	}

	localID := p.registry.allocate()
	channel := newChannel(p, localID, 0, p.configuration.MaximumPacketSize, destination, p.configuration.StreamReceiveWindow)
	if !p.registry.insert(channel) {
		return nil, newFatalProtocolError(errors.Errorf("duplicate local channel id %d", localID))
	}

	reply := make(chan openResult, 1)
	p.pendingLock.Lock()
	p.pendingOpens[localID] = reply
	p.pendingLock.Unlock()

	open := &ChannelOpen{
		SenderChannelID:   localID,
		InitialWindowSize: uint32(p.configuration.StreamReceiveWindow),
		MaximumPacketSize: p.configuration.MaximumPacketSize,
		DestinationURL:    destination.String(),
	}
	encoded, err := open.Encode(nil)
	if err != nil {
		p.abandonPendingOpen(localID)
		channel.markOpenFailed(err)
		return nil, newWireError(err)
	}
	p.sender.enqueueControl(encoded)

	select {
	case result := <-reply:
		return result.channel, result.err
	case <-ctx.Done():
		p.abandonPendingOpen(localID)
		channel.markOpenFailed(ctx.Err())
		return nil, ctx.Err()
	case <-p.closed:
		p.abandonPendingOpen(localID)
		channel.markOpenFailed(ErrProxyClosed)
		return nil, ErrProxyClosed
	}
}

func (p *Proxy) abandonPendingOpen(localID uint32) {
	p.pendingLock.Lock()
	delete(p.pendingOpens, localID)
	p.pendingLock.Unlock()
}

// handleOpen processes an inbound OPEN frame: validates the destination
// against the configured Policy and, if accepted, hands an
// IncomingChannelRequest to the application via Accept.
func (p *Proxy) handleOpen(m *ChannelOpen) error {
	destination, err := ParseDestinationURL(m.DestinationURL)
	if err != nil {
		return p.sendOpenFailureRaw(m.SenderChannelID, ReasonGeneralFailure, err.Error())
	}
	if err := p.policy.ValidateDestination(destination); err != nil {
		return p.sendOpenFailureRaw(m.SenderChannelID, ReasonFilterDenied, err.Error())
	}

	localID := p.registry.allocate()
	if !p.registry.reserveDistant(m.SenderChannelID, localID) {
		return newFatalProtocolError(errors.Errorf(
			"peer reused sender_channel_id %d in OPEN while a prior request under that id is still live",
			m.SenderChannelID,
		))
	}

	request := &IncomingChannelRequest{
		Destination:      destination,
		proxy:            p,
		localID:          localID,
		distantID:        m.SenderChannelID,
		distantWindow:    m.InitialWindowSize,
		distantMaxPacket: m.MaximumPacketSize,
	}

	select {
	case p.acceptCh <- request:
		return nil
	default:
		p.registry.releaseDistant(m.SenderChannelID)
		return p.sendOpenFailureRaw(m.SenderChannelID, ReasonCapacityExhausted, "accept backlog full")
	}
}

func (p *Proxy) acceptIncoming(r *IncomingChannelRequest) (*Channel, error) {
	var channel *Channel
	var err error
	resolved := false
	r.once.Do(func() {
		resolved = true
		channel = newChannel(p, r.localID, r.distantID, r.distantMaxPacket, r.Destination, p.configuration.StreamReceiveWindow)
		channel.sendWindow = r.distantWindow
		channel.state = stateEstablished
		if !p.registry.insert(channel) {
			err = newFatalProtocolError(errors.Errorf("duplicate local channel id %d", r.localID))
			channel = nil
			p.registry.releaseDistant(r.distantID)
			return
		}

		success := &ChannelOpenSuccess{
			RecipientChannelID: r.distantID,
			SenderChannelID:    r.localID,
			InitialWindowSize:  uint32(p.configuration.StreamReceiveWindow),
			MaximumPacketSize:  p.configuration.MaximumPacketSize,
		}
		encoded, encErr := success.Encode(nil)
		if encErr != nil {
			err = newWireError(encErr)
			p.registry.remove(r.localID)
			p.registry.releaseDistant(r.distantID)
			channel = nil
			return
		}
		p.sender.enqueueControl(encoded)
	})
	if !resolved {
		return nil, ErrChannelClosed
	}
	return channel, err
}

func (p *Proxy) rejectIncoming(r *IncomingChannelRequest, reason ReasonCode, description string) error {
	var err error
	resolved := false
	r.once.Do(func() {
		resolved = true
		p.registry.releaseDistant(r.distantID)
		err = p.sendOpenFailureRaw(r.distantID, reason, description)
	})
	if !resolved {
		return ErrChannelClosed
	}
	return err
}

// rejectIncomingConnectFailure rejects an inbound request like rejectIncoming,
// but also records a ConnectFailure audit event: unlike a filter denial, a
// failed connection attempt did reach the point of trying to reach targetIP,
// so spec §4.3/§8.6 require it to be audited.
func (p *Proxy) rejectIncomingConnectFailure(r *IncomingChannelRequest, reason ReasonCode, description string, targetIP net.IP) error {
	var err error
	resolved := false
	r.once.Do(func() {
		resolved = true
		p.registry.releaseDistant(r.distantID)
		err = p.sendOpenFailureRaw(r.distantID, reason, description)
		at := p.now()
		p.audit(TrafficEvent{
			ConnectionID:   p.id,
			Outcome:        ConnectFailure,
			Protocol:       TransportTCP,
			TargetHost:     r.Destination.Host(),
			TargetIP:       targetIP,
			TargetPort:     r.Destination.Port(),
			ConnectAt:      at,
			DisconnectAt:   at,
			ActiveDuration: 0,
			BytesTx:        0,
			BytesRx:        0,
		})
	})
	if !resolved {
		return ErrChannelClosed
	}
	return err
}

func (p *Proxy) sendOpenFailureRaw(distantID uint32, reason ReasonCode, description string) error {
	msg := &ChannelOpenFailure{RecipientChannelID: distantID, ReasonCode: reason, Description: description}
	encoded, err := msg.Encode(nil)
	if err != nil {
		return newWireError(err)
	}
	p.sender.enqueueControl(encoded)
	return nil
}

func (p *Proxy) handleOpenSuccess(m *ChannelOpenSuccess) error {
	p.pendingLock.Lock()
	reply, exists := p.pendingOpens[m.RecipientChannelID]
	if exists {
		delete(p.pendingOpens, m.RecipientChannelID)
	}
	p.pendingLock.Unlock()
	if !exists {
		return newProtocolError(errors.Errorf("unexpected OPEN_SUCCESS for channel %d", m.RecipientChannelID))
	}

	channel, ok := p.registry.lookup(m.RecipientChannelID)
	if !ok {
		return newProtocolError(errors.Errorf("OPEN_SUCCESS for unregistered channel %d", m.RecipientChannelID))
	}
	channel.markEstablished(m.SenderChannelID, m.InitialWindowSize, m.MaximumPacketSize, nil)
	reply <- openResult{channel: channel}
	return nil
}

func (p *Proxy) handleOpenFailure(m *ChannelOpenFailure) error {
	p.pendingLock.Lock()
	reply, exists := p.pendingOpens[m.RecipientChannelID]
	if exists {
		delete(p.pendingOpens, m.RecipientChannelID)
	}
	p.pendingLock.Unlock()
	if !exists {
		return newProtocolError(errors.Errorf("unexpected OPEN_FAILURE for channel %d", m.RecipientChannelID))
	}

	cause := &OpenError{Reason: m.ReasonCode, Description: m.Description}
	if channel, ok := p.registry.lookup(m.RecipientChannelID); ok {
		channel.markOpenFailed(cause)
	}
	reply <- openResult{err: cause}
	return nil
}

func (p *Proxy) handleWindowAdjust(m *ChannelWindowAdjust) error {
	channel, ok := p.registry.lookup(m.RecipientChannelID)
	if !ok {
		return newProtocolError(errors.Errorf("WINDOW_ADJUST for unknown channel %d", m.RecipientChannelID))
	}
	if err := channel.creditSendWindow(m.WindowAdjustment); err != nil {
		return newFatalProtocolError(err)
	}
	return nil
}

func (p *Proxy) handleData(m *ChannelData) error {
	channel, ok := p.registry.lookup(m.RecipientChannelID)
	if !ok {
		return newProtocolError(errors.Errorf("DATA for unknown channel %d", m.RecipientChannelID))
	}
	return channel.deliverData(m.TransferData)
}

func (p *Proxy) handleEOF(m *ChannelEOF) error {
	channel, ok := p.registry.lookup(m.RecipientChannelID)
	if !ok {
		return newProtocolError(errors.Errorf("EOF for unknown channel %d", m.RecipientChannelID))
	}
	channel.deliverEOF()
	return nil
}

func (p *Proxy) handleClose(m *ChannelClose) error {
	channel, ok := p.registry.lookup(m.RecipientChannelID)
	if !ok {
		// The two CLOSE frames crossed on the wire; we already tore this
		// channel down locally.
		return nil
	}
	channel.closeFromPeer()
	return nil
}

// finalizeChannel removes a channel from bookkeeping and fires its audit
// event. It is idempotent with respect to the registry (remove on an
// already-removed id is a no-op) but emitAudit guards against firing twice.
func (p *Proxy) finalizeChannel(c *Channel) {
	p.registry.remove(c.localID)
	p.registry.releaseDistant(c.distantID)
	p.sender.unmarkReady(c.localID)
	c.emitAudit()
}

// enqueueData hands a pre-fragmented chunk to a channel's outbound queue and
// marks it ready for the sender's round-robin scheduler.
func (p *Proxy) enqueueData(c *Channel, chunk []byte) error {
	owned := make([]byte, len(chunk))
	copy(owned, chunk)
	select {
	case c.outboundData <- owned:
	case <-c.closed:
		return ErrChannelClosed
	}
	p.sender.markReady(c.localID)
	return nil
}

func (p *Proxy) sendWindowAdjust(c *Channel, amount uint32) {
	msg := &ChannelWindowAdjust{RecipientChannelID: c.distantID, WindowAdjustment: amount}
	encoded, err := msg.Encode(nil)
	if err != nil {
		p.fail(newWireError(err))
		return
	}
	p.sender.enqueueControl(encoded)
}

func (p *Proxy) sendEOF(c *Channel) error {
	msg := &ChannelEOF{RecipientChannelID: c.distantID}
	encoded, err := msg.Encode(nil)
	if err != nil {
		return newWireError(err)
	}
	p.sender.enqueueControl(encoded)
	return nil
}

func (p *Proxy) sendClose(c *Channel) error {
	msg := &ChannelClose{RecipientChannelID: c.distantID}
	encoded, err := msg.Encode(nil)
	if err != nil {
		return newWireError(err)
	}
	p.sender.enqueueControl(encoded)
	return nil
}
