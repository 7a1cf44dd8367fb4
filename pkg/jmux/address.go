package jmux

import "fmt"

// proxyAddress implements net.Addr for Proxy.
type proxyAddress struct {
	even bool
}

func (a *proxyAddress) Network() string { return "jmux" }

func (a *proxyAddress) String() string {
	if a.even {
		return "jmux:even"
	}
	return "jmux:odd"
}

// channelAddress implements net.Addr for Channel.
type channelAddress struct {
	remote bool
	id     uint32
}

func (a *channelAddress) Network() string { return "jmux" }

func (a *channelAddress) String() string {
	if a.remote {
		return fmt.Sprintf("distant:%d", a.id)
	}
	return fmt.Sprintf("local:%d", a.id)
}
