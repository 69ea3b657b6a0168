package logging

import (
	"fmt"
	"io"
	"strings"

	clog "github.com/charmbracelet/log"
)

type Options struct {
	Level  string
	Format string
	Prefix string
}

// New builds a logger writing to w. Level is one of debug, info, warn or
// error; Format is one of text, json or logfmt.
func New(w io.Writer, opts Options) (*clog.Logger, error) {
	level := clog.InfoLevel
	if raw := strings.TrimSpace(opts.Level); raw != "" {
		parsed, err := clog.ParseLevel(strings.ToLower(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q", opts.Level)
		}
		level = parsed
	}

	var formatter clog.Formatter
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "text":
		formatter = clog.TextFormatter
	case "json":
		formatter = clog.JSONFormatter
	case "logfmt":
		formatter = clog.LogfmtFormatter
	default:
		return nil, fmt.Errorf("invalid log format %q", opts.Format)
	}

	return clog.NewWithOptions(w, clog.Options{
		Level:           level,
		Formatter:       formatter,
		Prefix:          opts.Prefix,
		ReportTimestamp: true,
	}), nil
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() *clog.Logger {
	return clog.NewWithOptions(io.Discard, clog.Options{Level: clog.FatalLevel})
}
