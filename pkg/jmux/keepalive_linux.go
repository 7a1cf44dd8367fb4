// +build linux

package jmux

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// tuneTCPKeepAlive enables TCP keepalive on conn (if it is a *net.TCPConn)
// and tightens the idle/interval timers below the OS defaults, so a forward
// leg that goes silent because its peer vanished without a FIN is reclaimed
// in seconds rather than the two-hours-plus a stock Linux keepalive takes.
func tuneTCPKeepAlive(conn net.Conn, idle time.Duration) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}

	if err := tcpConn.SetKeepAlive(true); err != nil {
		return
	}
	if err := tcpConn.SetKeepAlivePeriod(idle); err != nil {
		return
	}

	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return
	}

	seconds := int(idle.Seconds())
	if seconds < 1 {
		seconds = 1
	}

	_ = rawConn.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, seconds)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, seconds)
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3)
	})
}
