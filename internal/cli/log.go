// Package cli implements the depscan command-line interface.
//
// Every command resolves its settings the same way (defaults, config file,
// DEPSCAN_* environment, flags) and wires the same stack: a kv store, the
// TTL response cache on top of it, the registry client and a lookup
// orchestrator.
//
// # Commands
//
//   - scan: look up a manifest once and print a table (or JSON)
//   - tui: interactive table with search-as-you-type and kind tabs
//   - serve: HTTP API with a websocket stream and Prometheus metrics
//   - cache: clear the response cache or print where it lives
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging. Log output
// goes to stderr so scan's stdout stays machine-readable.
package cli

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// newLogger creates a new logger with timestamp formatting.
// Timestamps are formatted as "HH:MM:SS.ms" (e.g., "14:32:01.45").
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// progress tracks the start time of an operation and logs completion with elapsed duration.
type progress struct {
	logger *log.Logger
	start  time.Time
}

func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

// done logs msg along with the elapsed time since progress was created.
// Example output: "Looked up 42 packages (1.234s)"
func (p *progress) done(msg string) {
	p.logger.Infof("%s (%s)", msg, time.Since(p.start).Round(time.Millisecond))
}

// elapsed returns the time since start, rounded for display.
func (p *progress) elapsed() time.Duration {
	return time.Since(p.start).Round(time.Millisecond)
}
