// +build windows

package jmux

import (
	"net"
	"time"
)

// tuneTCPKeepAlive enables TCP keepalive with the given idle period.
func tuneTCPKeepAlive(conn net.Conn, idle time.Duration) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tcpConn.SetKeepAlive(true)
	_ = tcpConn.SetKeepAlivePeriod(idle)
}
