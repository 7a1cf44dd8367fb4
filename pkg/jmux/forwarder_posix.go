// +build !windows

package jmux

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// dialNamedPipe returns an "unsupported" error on POSIX systems.
func dialNamedPipe(_ context.Context, _ string) (net.Conn, error) {
	return nil, errors.New("named pipes are not supported on this platform")
}
