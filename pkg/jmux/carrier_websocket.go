package jmux

import (
	"bufio"
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// websocketCarrier adapts a *websocket.Conn into a Carrier, for the ws/wss
// destination schemes used when a JMUX Carrier itself needs to tunnel
// through an HTTP-only network path. JMUX frames are opaque binary payload
// from the WebSocket's point of view: each websocketCarrier.Write call is sent as
// one binary message, and reads transparently span message boundaries via
// bufio, mirroring NewCarrierFromStream's treatment of any other stream.
type websocketCarrier struct {
	conn *websocket.Conn
	*bufio.Reader

	writeLock sync.Mutex
}

// wsMessageReader adapts gorilla/websocket's per-message NextReader API into
// a single continuous io.Reader, advancing to the next binary message
// whenever the current one is exhausted.
type wsMessageReader struct {
	conn    *websocket.Conn
	current io.Reader
}

func (r *wsMessageReader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			messageType, reader, err := r.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			r.current = reader
		}
		n, err := r.current.Read(p)
		if err == io.EOF {
			r.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// NewCarrierFromWebSocket adapts an established *websocket.Conn (from either
// websocket.Dial or an Upgrader.Upgrade call) into a Carrier.
func NewCarrierFromWebSocket(conn *websocket.Conn) Carrier {
	return &websocketCarrier{
		conn:   conn,
		Reader: bufio.NewReader(&wsMessageReader{conn: conn}),
	}
}

// Write implements Carrier by sending data as a single binary WebSocket
// message. gorilla/websocket connections only support one concurrent writer,
// so writeLock serializes calls the way a single sender task naturally would
// anyway.
func (c *websocketCarrier) Write(data []byte) (int, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Close implements Carrier.
func (c *websocketCarrier) Close() error {
	return c.conn.Close()
}
