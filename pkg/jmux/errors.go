package jmux

import (
	"fmt"

	"github.com/pkg/errors"
)

// ReasonCode is the numeric reason carried in an OPEN_FAILURE message.
type ReasonCode uint32

// Reason codes for OPEN_FAILURE (spec §7). Implementations are free to
// extend this set. This package itself sends only ReasonGeneralFailure,
// ReasonFilterDenied, ReasonDNSFailure, ReasonConnectionRefused (for every
// non-DNS dial failure in Forwarder.Serve) and ReasonCapacityExhausted.
const (
	ReasonGeneralFailure       ReasonCode = 0
	ReasonFilterDenied         ReasonCode = 1
	ReasonDNSFailure           ReasonCode = 2
	ReasonConnectionRefused    ReasonCode = 3
	ReasonConnectionTimedOut   ReasonCode = 4
	ReasonHostUnreachable      ReasonCode = 5
	ReasonCapacityExhausted    ReasonCode = 6
	// ReasonDuplicateChannelID identifies a peer reusing a sender_channel_id it
	// still has a live OPEN/channel under. Spec §7 treats this as a fatal
	// protocol error rather than a per-channel rejection, so this package never
	// sends it in an OPEN_FAILURE frame; it exists for wire compatibility with
	// peers that do, and for diagnostics (see handleOpen).
	ReasonDuplicateChannelID ReasonCode = 7
)

func (r ReasonCode) String() string {
	switch r {
	case ReasonFilterDenied:
		return "filter denied"
	case ReasonDNSFailure:
		return "DNS resolution failed"
	case ReasonConnectionRefused:
		return "connection refused"
	case ReasonConnectionTimedOut:
		return "connection timed out"
	case ReasonHostUnreachable:
		return "host unreachable"
	case ReasonCapacityExhausted:
		return "accept capacity exhausted"
	case ReasonDuplicateChannelID:
		return "duplicate channel identifier"
	default:
		return "general failure"
	}
}

// WireError indicates a malformed frame: a decode/encode failure that is
// fatal to the underlying connection (spec §7). All channels on the
// connection are force-closed when this occurs: an open still awaiting the
// peer's reply with a ConnectFailure audit event, every other channel with an
// AbnormalTermination audit event.
type WireError struct {
	cause error
}

func (e *WireError) Error() string { return fmt.Sprintf("wire error: %v", e.cause) }
func (e *WireError) Unwrap() error { return e.cause }

func newWireError(cause error) error { return &WireError{cause: cause} }

// ProtocolError indicates a well-formed frame that violates protocol
// invariants (references to a non-existent channel, a window increment that
// would overflow, a duplicate sender channel id). Frames referencing an
// unknown channel are logged and discarded; a duplicate sender channel id, a
// WINDOW_ADJUST that would overflow the send window, and DATA exceeding the
// advertised receive window are fatal.
type ProtocolError struct {
	cause error
	fatal bool
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol error: %v", e.cause) }
func (e *ProtocolError) Unwrap() error { return e.cause }

// Fatal reports whether this protocol error must tear down the connection.
func (e *ProtocolError) Fatal() bool { return e.fatal }

func newProtocolError(cause error) error          { return &ProtocolError{cause: cause} }
func newFatalProtocolError(cause error) error      { return &ProtocolError{cause: cause, fatal: true} }

// OpenError is returned to the initiator of OpenChannel when a channel could
// not be established, and is also the cause carried in the corresponding
// OPEN_FAILURE frame sent to a peer that tried to open a channel to us.
type OpenError struct {
	Reason      ReasonCode
	Description string
}

func (e *OpenError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("open failed: %s: %s", e.Reason, e.Description)
	}
	return fmt.Sprintf("open failed: %s", e.Reason)
}

// ErrFilterDenied is returned when the configured Policy rejects a
// destination.
var ErrFilterDenied = &OpenError{Reason: ReasonFilterDenied, Description: "destination rejected by filter policy"}

// ErrCapacityExhausted describes a full accept backlog. No function of this
// package returns it: an OpenChannel refused for that reason returns a
// separate *OpenError with Reason ReasonCapacityExhausted.
var ErrCapacityExhausted = &OpenError{Reason: ReasonCapacityExhausted, Description: "accept backlog full"}

// ErrCancelled describes an open aborted by shutdown. No function of this
// package returns it: an OpenChannel call in flight when the Proxy closes
// returns ErrProxyClosed.
var ErrCancelled = errors.New("open cancelled by shutdown")

// ChannelIOError wraps a transport-level error observed on an established
// channel. No code path of this package constructs it; a transport failure
// tears the whole Proxy down through a WireError instead.
type ChannelIOError struct {
	cause error
}

func (e *ChannelIOError) Error() string { return fmt.Sprintf("channel I/O error: %v", e.cause) }
func (e *ChannelIOError) Unwrap() error { return e.cause }

// ErrProxyClosed is returned from operations that fail because the Proxy has
// been closed (either by Shutdown or by a fatal connection-level error).
var ErrProxyClosed = errors.New("jmux: proxy closed")

// ErrChannelClosed is returned from operations on a channel that has already
// reached the Closed state.
var ErrChannelClosed = errors.New("jmux: channel closed")

// ErrChannelWriteClosed is returned from Write after CloseWrite.
var ErrChannelWriteClosed = errors.New("jmux: channel closed for writing")
