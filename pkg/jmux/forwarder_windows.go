// +build windows

package jmux

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"
)

// dialNamedPipe dials a Windows named pipe, for the "npipe" destination
// scheme used when JMUX forwards to a local Windows service such as the
// Docker Engine.
func dialNamedPipe(ctx context.Context, address string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, address)
}
