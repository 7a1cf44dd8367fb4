package jmux

import (
	"container/ring"
	"sync"
)

// sender is the Proxy's single writer task (spec §4.4). Two kinds of
// outbound work share the Carrier: control frames (OPEN, OPEN_SUCCESS,
// OPEN_FAILURE, WINDOW_ADJUST, EOF, CLOSE), which always take priority, and
// DATA frames, scheduled round-robin across every channel that currently has
// queued payload and positive send window. A single writer task, rather than
// one per channel, keeps frame writes atomic on the Carrier without an
// additional lock around every Write call.
type sender struct {
	proxy   *Proxy
	control chan []byte

	mu     sync.Mutex
	ring   *ring.Ring // of uint32 local channel ids currently believed ready
	inRing map[uint32]*ring.Ring

	wake chan struct{}
	done chan struct{}
}

func newSender(proxy *Proxy) *sender {
	return &sender{
		proxy:   proxy,
		control: make(chan []byte, 64),
		inRing:  make(map[uint32]*ring.Ring),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// enqueueControl queues a pre-encoded control frame for transmission. It
// never blocks on channel backpressure: control frames are small, bounded in
// number by in-flight opens and window adjustments, and must never be held
// up behind a stalled data channel.
func (s *sender) enqueueControl(frame []byte) {
	select {
	case s.control <- frame:
	case <-s.done:
	}
}

// markReady adds a channel id to the round-robin ring if it is not already
// present, and wakes the sender loop.
func (s *sender) markReady(localID uint32) {
	s.mu.Lock()
	if _, exists := s.inRing[localID]; !exists {
		node := ring.New(1)
		node.Value = localID
		if s.ring == nil {
			s.ring = node
		} else {
			s.ring.Prev().Link(node)
		}
		s.inRing[localID] = node
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *sender) unmarkReady(localID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, exists := s.inRing[localID]
	if !exists {
		return
	}
	delete(s.inRing, localID)
	if node.Len() == 1 {
		s.ring = nil
	} else {
		if s.ring == node {
			s.ring = node.Next()
		}
		node.Prev().Unlink(1)
	}
}

// run is the sender task's main loop. It exits when the Proxy closes.
func (s *sender) run() {
	defer close(s.done)
	for {
		select {
		case frame := <-s.control:
			if s.writeFrame(frame) != nil {
				return
			}
			continue
		case <-s.proxy.closed:
			return
		default:
		}

		progressed := s.serviceOneReadyChannel()
		if progressed {
			continue
		}

		select {
		case frame := <-s.control:
			if s.writeFrame(frame) != nil {
				return
			}
		case <-s.wake:
		case <-s.proxy.closed:
			return
		}
	}
}

// serviceOneReadyChannel advances the round-robin cursor by one channel that
// has queued data and positive send window, writing a single DATA frame for
// it. It returns false if no channel currently qualifies.
func (s *sender) serviceOneReadyChannel() bool {
	s.mu.Lock()
	start := s.ring
	s.mu.Unlock()
	if start == nil {
		return false
	}

	s.mu.Lock()
	node := s.ring
	s.mu.Unlock()

	visited := 0
	for node != nil {
		localID := node.Value.(uint32)
		channel, ok := s.proxy.registry.lookup(localID)
		if !ok {
			s.unmarkReady(localID)
			s.mu.Lock()
			node = s.ring
			s.mu.Unlock()
			visited++
			if visited > channelVisitGuard {
				return false
			}
			continue
		}

		select {
		case chunk := <-channel.outboundData:
			frame := &ChannelData{RecipientChannelID: channel.distantID, TransferData: chunk}
			encoded, err := frame.Encode(nil)
			if err != nil {
				s.proxy.fail(newWireError(err))
				return false
			}
			if len(channel.outboundData) == 0 {
				// unmarkReady unlinks node and moves the cursor past it.
				s.unmarkReady(localID)
			} else {
				s.mu.Lock()
				s.ring = node.Next()
				s.mu.Unlock()
			}
			return s.writeFrame(encoded) == nil
		default:
			s.unmarkReady(localID)
			s.mu.Lock()
			node = s.ring
			s.mu.Unlock()
		}

		visited++
		if visited > channelVisitGuard {
			return false
		}
	}
	return false
}

// channelVisitGuard bounds how many ring entries serviceOneReadyChannel
// will examine before giving up for this pass, preventing a spin loop if
// every ready entry turns out stale in the same instant.
const channelVisitGuard = 4096

func (s *sender) writeFrame(frame []byte) error {
	_, err := s.proxy.carrier.Write(frame)
	if err != nil {
		s.proxy.fail(newWireError(err))
		return err
	}
	return nil
}
