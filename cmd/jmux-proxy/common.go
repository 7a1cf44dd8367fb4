package main

import (
	"fmt"
	"sync/atomic"

	"github.com/devolutions/jmux-go/cmd"
	"github.com/devolutions/jmux-go/pkg/jmux"
	"github.com/devolutions/jmux-go/pkg/logging"
)

// resolveLogLevel converts a --log-level flag value to a logging.Level,
// falling back to LevelInfo (with a warning) for an unrecognized name.
func resolveLogLevel(name string) logging.Level {
	level, ok := logging.NameToLevel(name)
	if !ok {
		cmd.Warning(fmt.Sprintf("unknown log level %q, using info", name))
		level = logging.LevelInfo
	}
	return level
}

// loadPolicy loads a filtering policy from path, or returns fallback if path
// is empty.
func loadPolicy(path string, fallback jmux.Policy) (jmux.Policy, error) {
	if path == "" {
		return fallback, nil
	}
	return jmux.LoadPolicyFile(path)
}

// trafficTotals accumulates byte counts across every TrafficEvent a Proxy
// emits, for a single humanized summary line printed at shutdown.
type trafficTotals struct {
	tx uint64
	rx uint64
}

func (t *trafficTotals) add(event jmux.TrafficEvent) {
	atomic.AddUint64(&t.tx, event.BytesTx)
	atomic.AddUint64(&t.rx, event.BytesRx)
}

// auditLogger returns an AuditFunc that logs each TrafficEvent at info level
// and tallies its byte counts into totals, suitable as a default audit sink
// for the CLI.
func auditLogger(logger *logging.Logger, totals *trafficTotals) jmux.AuditFunc {
	sub := logger.Sublogger("audit")
	return func(event jmux.TrafficEvent) {
		totals.add(event)
		sub.Printf(
			"%s %s %s:%d outcome=%s tx=%d rx=%d duration=%s",
			event.ConnectionID, event.Protocol, event.TargetHost, event.TargetPort,
			event.Outcome, event.BytesTx, event.BytesRx, event.ActiveDuration,
		)
	}
}
