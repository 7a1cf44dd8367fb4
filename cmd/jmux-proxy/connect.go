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

var connectConfiguration struct {
	address    string
	policyFile string
	logLevel   string
}

var connectCommand = &cobra.Command{
	Use:   "connect",
	Short: "Dial a JMUX peer and forward its channels",
	Args:  cmd.DisallowArguments,
	Run:   cmd.Mainify(connectMain),
}

func init() {
	flags := connectCommand.Flags()
	flags.StringVarP(&connectConfiguration.address, "connect", "c", "", "Address of the JMUX peer to dial (required)")
	flags.StringVar(&connectConfiguration.policyFile, "policy", "", "Path to a filtering policy YAML file (default: deny all inbound opens, client-only)")
	flags.StringVar(&connectConfiguration.logLevel, "log-level", "info", "Logging level (disabled, error, warn, info, debug, trace)")
	_ = cobra.MarkFlagRequired(flags, "connect")
}

func connectMain(_ *cobra.Command, _ []string) error {
	logger := logging.NewLogger(resolveLogLevel(connectConfiguration.logLevel), logging.RootLogger.Writer())

	policy, err := loadPolicy(connectConfiguration.policyFile, jmux.ClientOnlyPolicy())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), cmd.TerminationSignals...)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", connectConfiguration.address)
	if err != nil {
		return err
	}
	defer must.Close(conn, logger)

	logger.Printf("connected to %s", conn.RemoteAddr())

	carrier := jmux.NewCarrierFromStream(conn)
	totals := &trafficTotals{}
	audit := auditLogger(logger, totals)

	proxy := jmux.NewProxy(carrier, true, nil, policy, audit, logger.Sublogger("proxy"))
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
