package jmux

import (
	"io"

	"github.com/pkg/errors"
)

// receiver is the Proxy's single reader task (spec §4.5). It decodes one
// frame at a time off the Carrier and dispatches it to the appropriate
// channel or control handler. A malformed frame (a WireError) is always
// fatal to the whole connection; a well-formed frame that violates a
// protocol invariant (a non-fatal ProtocolError) is logged and the loop
// continues, since that frame's damage is scoped to a single channel.
type receiver struct {
	proxy *Proxy
}

func newReceiver(proxy *Proxy) *receiver {
	return &receiver{proxy: proxy}
}

func (r *receiver) run() {
	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(r.proxy.carrier, header); err != nil {
			r.proxy.fail(newWireError(errors.Wrap(err, "unable to read frame header")))
			return
		}

		h, err := DecodeHeader(header)
		if err != nil {
			r.proxy.fail(newWireError(err))
			return
		}

		frame := make([]byte, h.Size)
		copy(frame, header)
		if extra := int(h.Size) - headerSize; extra > 0 {
			if _, err := io.ReadFull(r.proxy.carrier, frame[headerSize:]); err != nil {
				r.proxy.fail(newWireError(errors.Wrap(err, "unable to read frame body")))
				return
			}
		}

		message, err := DecodeMessage(frame)
		if err != nil {
			r.proxy.fail(newWireError(err))
			return
		}

		r.proxy.logger.Tracef("received %s frame", message.Kind())

		if err := r.dispatch(message); err != nil {
			var protocolErr *ProtocolError
			if errors.As(err, &protocolErr) && !protocolErr.Fatal() {
				r.proxy.logger.Warn(err)
				continue
			}
			r.proxy.fail(err)
			return
		}
	}
}

func (r *receiver) dispatch(message Message) error {
	switch m := message.(type) {
	case *ChannelOpen:
		return r.proxy.handleOpen(m)
	case *ChannelOpenSuccess:
		return r.proxy.handleOpenSuccess(m)
	case *ChannelOpenFailure:
		return r.proxy.handleOpenFailure(m)
	case *ChannelWindowAdjust:
		return r.proxy.handleWindowAdjust(m)
	case *ChannelData:
		return r.proxy.handleData(m)
	case *ChannelEOF:
		return r.proxy.handleEOF(m)
	case *ChannelClose:
		return r.proxy.handleClose(m)
	default:
		return newFatalProtocolError(errors.Errorf("unhandled message type %T", message))
	}
}
