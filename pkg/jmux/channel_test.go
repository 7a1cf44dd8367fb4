package jmux

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"

	"golang.org/x/net/nettest"

	"github.com/devolutions/jmux-go/pkg/logging"
	"github.com/devolutions/jmux-go/pkg/must"
)

// makeChannelPipe constructs a nettest.MakePipe out of a pair of Proxies: one
// opens a channel, the other accepts it, mirroring how the teacher's
// multiplexer_test.go pairs its two Multiplexer roles over a single
// in-memory net.Pipe.
func makeChannelPipe(opener, acceptor *Proxy, logger *logging.Logger) nettest.MakePipe {
	return func() (c1, c2 net.Conn, stop func(), err error) {
		var wait sync.WaitGroup
		wait.Add(2)

		var opened *Channel
		var accepted *Channel
		var openErr, acceptErr error

		go func() {
			defer wait.Done()
			opened, openErr = opener.OpenChannel(context.Background(), NewDestinationURL("tcp", "test", 1))
		}()
		go func() {
			defer wait.Done()
			request, requestErr := acceptor.Accept()
			if requestErr != nil {
				acceptErr = requestErr
				return
			}
			accepted, acceptErr = request.Accept()
		}()
		wait.Wait()

		if openErr != nil || acceptErr != nil {
			if opened != nil {
				must.Close(opened, logger)
			}
			if accepted != nil {
				must.Close(accepted, logger)
			}
			if openErr != nil {
				err = openErr
			} else {
				err = acceptErr
			}
			stop = func() {}
			return
		}

		c1 = opened
		c2 = accepted
		stop = func() {
			must.Close(opened, logger)
			must.Close(accepted, logger)
		}
		return
	}
}

func TestChannelConformsToNetConn(t *testing.T) {
	p1, p2 := net.Pipe()

	errBuf := &bytes.Buffer{}
	logger := logging.NewLogger(logging.LevelError, errBuf)

	opener := NewProxy(NewCarrierFromStream(p1), true, nil, PermissivePolicy(), nil, logger)
	acceptor := NewProxy(NewCarrierFromStream(p2), false, nil, PermissivePolicy(), nil, logger)

	go opener.Run()
	go acceptor.Run()
	defer func() {
		must.Close(opener, logger)
		must.Close(acceptor, logger)
	}()

	nettest.TestConn(t, makeChannelPipe(opener, acceptor, logger))
}

func TestChannelEchoAndHalfClose(t *testing.T) {
	p1, p2 := net.Pipe()

	logger := logging.NewLogger(logging.LevelError, &bytes.Buffer{})

	opener := NewProxy(NewCarrierFromStream(p1), true, nil, PermissivePolicy(), nil, logger)
	acceptor := NewProxy(NewCarrierFromStream(p2), false, nil, PermissivePolicy(), nil, logger)

	go opener.Run()
	go acceptor.Run()
	defer must.Close(opener, logger)
	defer must.Close(acceptor, logger)

	var wait sync.WaitGroup
	wait.Add(2)

	var client, server *Channel
	var clientErr, serverErr error

	go func() {
		defer wait.Done()
		client, clientErr = opener.OpenChannel(context.Background(), NewDestinationURL("tcp", "echo", 7))
	}()
	go func() {
		defer wait.Done()
		request, err := acceptor.Accept()
		if err != nil {
			serverErr = err
			return
		}
		server, serverErr = request.Accept()
	}()
	wait.Wait()

	if clientErr != nil {
		t.Fatalf("OpenChannel failed: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("Accept failed: %v", serverErr)
	}
	defer must.Close(client, logger)
	defer must.Close(server, logger)

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := server.Read(buf)
			if n > 0 {
				if _, werr := server.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				must.CloseWrite(server, logger)
				return
			}
		}
	}()

	message := []byte("ping over jmux")
	if _, err := client.Write(message); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := client.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite failed: %v", err)
	}

	echoed, err := readAllUntilEOF(client)
	if err != nil {
		t.Fatalf("reading echo failed: %v", err)
	}
	if !bytes.Equal(echoed, message) {
		t.Fatalf("echo mismatch: got %q, want %q", echoed, message)
	}
}

func readAllUntilEOF(r net.Conn) ([]byte, error) {
	var out []byte
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

func TestFilterDeniesOpenChannel(t *testing.T) {
	p1, p2 := net.Pipe()

	logger := logging.NewLogger(logging.LevelError, &bytes.Buffer{})

	opener := NewProxy(NewCarrierFromStream(p1), true, nil, PermissivePolicy(), nil, logger)
	acceptor := NewProxy(NewCarrierFromStream(p2), false, nil, DefaultPolicy(), nil, logger)

	go opener.Run()
	go acceptor.Run()
	defer must.Close(opener, logger)
	defer must.Close(acceptor, logger)

	// The acceptor never calls Accept, so this exercises rejection at
	// handleOpen time via the deny-by-default policy rather than a full
	// backlog; the policy rejection happens before the request ever reaches
	// the application's Accept call.
	_, err := opener.OpenChannel(context.Background(), NewDestinationURL("tcp", "blocked.example.com", 22))
	if err == nil {
		t.Fatal("expected OpenChannel to fail against a denying policy")
	}
	var openErr *OpenError
	if !asOpenError(err, &openErr) {
		t.Fatalf("expected an *OpenError, got %T: %v", err, err)
	}
	if openErr.Reason != ReasonFilterDenied {
		t.Fatalf("expected ReasonFilterDenied, got %v", openErr.Reason)
	}
}

func asOpenError(err error, target **OpenError) bool {
	if oe, ok := err.(*OpenError); ok {
		*target = oe
		return true
	}
	return false
}

func TestOpenChannelContextCancellation(t *testing.T) {
	p1, p2 := net.Pipe()
	defer p2.Close()

	logger := logging.NewLogger(logging.LevelError, &bytes.Buffer{})
	opener := NewProxy(NewCarrierFromStream(p1), true, nil, PermissivePolicy(), nil, logger)
	go opener.Run()
	defer must.Close(opener, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := opener.OpenChannel(ctx, NewDestinationURL("tcp", "nowhere", 1))
	if err == nil {
		t.Fatal("expected OpenChannel to fail once its context is already cancelled")
	}
}

func TestNewForwarderRejectsUnsupportedScheme(t *testing.T) {
	forwarder := NewForwarder(nil, nil)
	_, err := forwarder.Dial(context.Background(), NewDestinationURL("carrier-pigeon", "x", 1))
	if err == nil {
		t.Fatal("expected Dial to reject an unsupported scheme")
	}
}
