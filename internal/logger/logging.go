// Package logger configures charmbracelet/log for the chatserve binaries.
//
// Logs always go to stderr: stdout belongs to the IPC protocol when serving over pipes.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Options mirror the [log] config section.
type Options struct {
	Debug     bool
	Format    string
	Timestamp bool
	Caller    bool
}

// Setup applies opts to the default logger.
func Setup(opts Options) error {
	formatter, err := ParseFormat(opts.Format)
	if err != nil {
		return err
	}
	log.SetDefault(NewWithConfig("", levelFor(opts.Debug), opts.Caller, opts.Timestamp, formatter))
	return nil
}

// New creates a prefixed charm log that respects the global log level.
func New(prefix string) *log.Logger {
	return newLogger(os.Stderr, prefix, log.GetLevel(), false, true, log.TextFormatter)
}

// NewWithConfig creates a new charm log with custom config.
func NewWithConfig(prefix string, level log.Level, caller bool, showTimestamp bool, fmt log.Formatter) *log.Logger {
	return newLogger(os.Stderr, prefix, level, caller, showTimestamp, fmt)
}

// ParseFormat maps a config value to a formatter. Empty means text.
func ParseFormat(name string) (log.Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return log.TextFormatter, fmt.Errorf("unknown log format %q", name)
	}
}

func levelFor(debug bool) log.Level {
	if debug {
		return log.DebugLevel
	}
	return log.InfoLevel
}

func newLogger(w io.Writer, prefix string, level log.Level, caller, timestamp bool, formatter log.Formatter) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		Prefix:          prefix,
		Level:           level,
		ReportCaller:    caller,
		ReportTimestamp: timestamp,
		Formatter:       formatter,
	})
}
