// +build !windows,!linux

package jmux

import (
	"net"
	"time"
)

// tuneTCPKeepAlive enables TCP keepalive with the given idle period. Unlike
// keepalive_linux.go, non-Linux Unix platforms don't get their keepalive
// interval and probe count tightened, since those socket options aren't
// portable across the BSD family.
func tuneTCPKeepAlive(conn net.Conn, idle time.Duration) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcpConn.SetKeepAlive(true)
	_ = tcpConn.SetKeepAlivePeriod(idle)
}
