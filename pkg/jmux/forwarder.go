package jmux

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/devolutions/jmux-go/pkg/logging"
	"github.com/devolutions/jmux-go/pkg/must"
)

// Forwarder dials the concrete local endpoint a channel's DestinationURL
// refers to and pumps the channel's data to and from it (spec §9's "gateway"
// use case). The default Forwarder dials TCP and Unix domain sockets; Windows
// builds additionally support named pipes (forwarder_windows.go).
type Forwarder struct {
	dialer        *net.Dialer
	logger        *logging.Logger
	keepAliveIdle time.Duration
}

// NewForwarder constructs a Forwarder using net.Dialer defaults and the
// keepalive tuning from configuration (nil selects DefaultConfiguration).
func NewForwarder(logger *logging.Logger, configuration *Configuration) *Forwarder {
	if configuration == nil {
		configuration = DefaultConfiguration()
	}
	return &Forwarder{
		dialer:        &net.Dialer{},
		logger:        logger,
		keepAliveIdle: configuration.ForwardKeepAliveIdle,
	}
}

// Dial establishes the local half of a channel. The destination's scheme
// selects the network: "tcp"/"tcp4"/"tcp6" dial the matching TCP network,
// "unix" dials a Unix domain socket at the destination's host (ignoring
// port), and "npipe" dials a Windows named pipe.
func (f *Forwarder) Dial(ctx context.Context, destination DestinationURL) (net.Conn, error) {
	switch destination.Scheme() {
	case "tcp", "tcp4", "tcp6":
		conn, err := f.dialer.DialContext(ctx, destination.Scheme(), destination.Address())
		if err != nil {
			return nil, err
		}
		if f.keepAliveIdle > 0 {
			tuneTCPKeepAlive(conn, f.keepAliveIdle)
		}
		return conn, nil
	case "unix":
		return f.dialer.DialContext(ctx, "unix", destination.Host())
	case "npipe":
		return dialNamedPipe(ctx, destination.Host())
	default:
		return nil, errors.Errorf("unsupported destination scheme %q", destination.Scheme())
	}
}

// closeWriter is implemented by connections (TCP, Unix) that support
// half-closing their write side independently of Close.
type closeWriter interface {
	CloseWrite() error
}

// Pump copies data bidirectionally between channel and its dialed local
// connection until both directions have reached EOF, then closes both ends.
// It blocks for the duration of the forwarding session, so callers normally
// invoke it from its own goroutine per accepted channel.
func (f *Forwarder) Pump(channel *Channel, local net.Conn) {
	done := make(chan struct{}, 2)

	go func() {
		must.IOCopy(local, channel, f.logger)
		if cw, ok := local.(closeWriter); ok {
			must.CloseWrite(cw, f.logger)
		} else {
			must.Close(local, f.logger)
		}
		done <- struct{}{}
	}()

	go func() {
		must.IOCopy(channel, local, f.logger)
		must.CloseWrite(channel, f.logger)
		done <- struct{}{}
	}()

	<-done
	<-done
	must.Close(local, f.logger)
	must.Close(channel, f.logger)
}

// dialErrorTargetIP extracts the remote address a failed dial actually
// attempted, for inclusion in a ConnectFailure audit event. It returns nil if
// err doesn't carry one (e.g. an unsupported scheme, never dialed at all).
func dialErrorTargetIP(err error) net.IP {
	opErr, ok := errors.Cause(err).(*net.OpError)
	if !ok || opErr.Addr == nil {
		return nil
	}
	switch addr := opErr.Addr.(type) {
	case *net.TCPAddr:
		return addr.IP
	case *net.UnixAddr:
		return nil
	default:
		host, _, splitErr := net.SplitHostPort(addr.String())
		if splitErr != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}

// Serve is a convenience loop: it calls Proxy.Accept repeatedly, dials each
// accepted destination with Dial, and pumps data between the result and the
// accepted Channel. It returns when the Proxy closes.
func (f *Forwarder) Serve(ctx context.Context, proxy *Proxy) error {
	for {
		request, err := proxy.Accept()
		if err != nil {
			if errors.Is(err, ErrProxyClosed) {
				return nil
			}
			return err
		}

		go func(request *IncomingChannelRequest) {
			local, err := f.Dial(ctx, request.Destination)
			if err != nil {
				var dnsErr *net.DNSError
				if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
					_ = request.Reject(ReasonDNSFailure, err.Error())
					return
				}
				_ = request.RejectConnectFailure(ReasonConnectionRefused, err.Error(), dialErrorTargetIP(err))
				return
			}

			channel, err := request.Accept()
			if err != nil {
				must.Close(local, f.logger)
				return
			}

			f.Pump(channel, local)
		}(request)
	}
}
