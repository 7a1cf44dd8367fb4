package jmux

import (
	"bufio"
	"io"
)

// Carrier is the single reliable full-duplex transport that a Proxy
// multiplexes over (spec §6). Implementations must ensure that Close unblocks
// any pending Read or Write call. NewCarrierFromStream adapts any
// io.ReadWriteCloser with that property into a Carrier.
type Carrier interface {
	io.Reader
	io.ByteReader
	io.Writer
	io.Closer
}

// bufioCarrier adapts an io.ReadWriteCloser into a Carrier by layering a
// bufio.Reader over it for efficient single-byte and short reads.
type bufioCarrier struct {
	*bufio.Reader
	io.Writer
	io.Closer
}

// NewCarrierFromStream constructs a Carrier by wrapping an underlying
// io.ReadWriteCloser, such as a TLS connection, WebSocket message stream, or
// raw TCP socket. The underlying stream must unblock pending Read/Write calls
// when Close is invoked. The core takes ownership of the stream.
func NewCarrierFromStream(stream io.ReadWriteCloser) Carrier {
	return &bufioCarrier{
		Reader: bufio.NewReader(stream),
		Writer: stream,
		Closer: stream,
	}
}
