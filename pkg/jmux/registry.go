package jmux

import "sync"

// registry tracks every Channel a Proxy currently knows about, keyed by the
// local channel identifier (the id this side assigned and that the peer uses
// as RecipientChannelID when addressing us). It also allocates fresh local
// identifiers, matching the teacher's even/odd allocation scheme so that two
// Proxies on either end of a single Carrier can never collide: one side only
// ever allocates even identifiers, the other only odd ones.
type registry struct {
	mu       sync.Mutex
	channels map[uint32]*Channel
	// distant tracks, for channels the peer opened toward us, the
	// peer-assigned sender_channel_id currently in use, mapped to the local
	// id we allocated for it. It exists purely to detect a peer reusing a
	// sender_channel_id it still has a live OPEN/channel under (spec §7).
	distant map[uint32]uint32
	next    uint32
	step    uint32
}

func newRegistry(even bool) *registry {
	r := &registry{
		channels: make(map[uint32]*Channel),
		distant:  make(map[uint32]uint32),
		step:     2,
	}
	// Id 0 is reserved and never allocated (spec §3); the even pool therefore
	// starts at 2, not 0.
	if even {
		r.next = 2
	} else {
		r.next = 1
	}
	return r
}

// allocate reserves and returns the next local channel identifier, without
// registering any Channel under it.
func (r *registry) allocate() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.next
	r.next += r.step
	return id
}

// insert registers a Channel under its local id. It returns false if the id
// is already in use, which should never happen for ids produced by allocate
// but is checked defensively since inbound OPEN frames from a misbehaving
// peer could otherwise never collide with our own allocation (they use the
// other parity) yet a duplicate frame replay should still be rejected.
func (r *registry) insert(c *Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[c.localID]; exists {
		return false
	}
	r.channels[c.localID] = c
	return true
}

// reserveDistant records that sender_channel_id distantID is now in use by
// an inbound OPEN request (pending or accepted), allocated local id
// localID. It returns false if the peer already has a live reservation
// under that same distantID, which the caller must treat as a fatal
// protocol error.
func (r *registry) reserveDistant(distantID, localID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.distant[distantID]; exists {
		return false
	}
	r.distant[distantID] = localID
	return true
}

// releaseDistant drops a sender_channel_id reservation once its request has
// been rejected or its channel has been fully torn down. A release for a
// distantID that was never reserved (e.g. the id the peer supplied in its
// OPEN_SUCCESS for a channel we opened) is a harmless no-op.
func (r *registry) releaseDistant(distantID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.distant, distantID)
}

func (r *registry) lookup(localID uint32) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[localID]
	return c, ok
}

func (r *registry) remove(localID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, localID)
}

// snapshot returns every currently registered Channel, for bulk teardown.
func (r *registry) snapshot() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c)
	}
	return out
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
