// +build windows

package jmux

import (
	"context"

	"github.com/Microsoft/go-winio"
)

// NewCarrierFromNamedPipe dials a Windows named pipe and adapts it into a
// Carrier, for deployments where the two JMUX endpoints live on the same
// Windows host and prefer a named pipe to a loopback TCP socket.
func NewCarrierFromNamedPipe(ctx context.Context, address string) (Carrier, error) {
	conn, err := winio.DialPipeContext(ctx, address)
	if err != nil {
		return nil, err
	}
	return NewCarrierFromStream(conn), nil
}
