package main

import (
	"context"
	"net"
	"os/signal"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/devolutions/jmux-go/cmd"
	"github.com/devolutions/jmux-go/pkg/jmux"
	"github.com/devolutions/jmux-go/pkg/logging"
	"github.com/devolutions/jmux-go/pkg/must"
)

var serveConfiguration struct {
	listen     string
	policyFile string
	logLevel   string
}

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Accept a single incoming JMUX connection and forward its channels",
	Args:  cmd.DisallowArguments,
	Run:   cmd.Mainify(serveMain),
}

func init() {
	flags := serveCommand.Flags()
	flags.StringVarP(&serveConfiguration.listen, "listen", "l", "127.0.0.1:7341", "Address to listen on")
	flags.StringVar(&serveConfiguration.policyFile, "policy", "", "Path to a filtering policy YAML file (default: deny everything not explicitly allowed)")
	flags.StringVar(&serveConfiguration.logLevel, "log-level", "info", "Logging level (disabled, error, warn, info, debug, trace)")
}

func serveMain(_ *cobra.Command, _ []string) error {
	logger := logging.NewLogger(resolveLogLevel(serveConfiguration.logLevel), logging.RootLogger.Writer())

	policy, err := loadPolicy(serveConfiguration.policyFile, jmux.DefaultPolicy())
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", serveConfiguration.listen)
	if err != nil {
		return err
	}
	defer must.Close(listener, logger)

	logger.Printf("listening on %s", listener.Addr())

	ctx, cancel := signal.NotifyContext(context.Background(), cmd.TerminationSignals...)
	defer cancel()

	conn, err := acceptOne(ctx, listener)
	if err != nil {
		return err
	}
	defer must.Close(conn, logger)

	logger.Printf("accepted connection from %s", conn.RemoteAddr())

	carrier := jmux.NewCarrierFromStream(conn)
	totals := &trafficTotals{}
	audit := auditLogger(logger, totals)

	proxy := jmux.NewProxy(carrier, false, nil, policy, audit, logger.Sublogger("proxy"))
	go proxy.Run()
	defer must.Close(proxy, logger)

	go func() {
		<-ctx.Done()
		must.Close(proxy, logger)
	}()

	forwarder := jmux.NewForwarder(logger.Sublogger("forwarder"), nil)
	if err := forwarder.Serve(ctx, proxy); err != nil {
		return err
	}

	logger.Printf(
		"connection closed (%s sent, %s received)",
		humanize.Bytes(totals.tx), humanize.Bytes(totals.rx),
	)
	return nil
}

// acceptOne accepts a single connection, unblocking early if ctx is
// cancelled.
func acceptOne(ctx context.Context, listener net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	results := make(chan result, 1)
	go func() {
		conn, err := listener.Accept()
		results <- result{conn, err}
	}()

	select {
	case r := <-results:
		return r.conn, r.err
	case <-ctx.Done():
		must.Close(listener, nil)
		r := <-results
		return r.conn, r.err
	}
}
