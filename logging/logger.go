// Package logging defines the structured logger used by the command line and
// the adapter rendering events through it. Implementations wrap slog or zap.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/etnz/debstore/events"
)

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key-value pairs, e.g.:
//
//	log.Info(ctx, "imported", "suite", name, "records", n)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key-value pairs.
	With(args ...any) Logger
}

// Formats accepted by New.
const (
	FormatText    = "text"
	FormatJSON    = "json"
	FormatConsole = "console"
)

// New returns a logger writing to w at the given level ("debug", "info",
// "warn" or "error"). The text format is rendered by slog, json and console
// by zap.
func New(w io.Writer, format, level string) (Logger, error) {
	switch format {
	case FormatText, "":
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
		h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})
		return NewSlogLogger(slog.New(h)), nil
	case FormatJSON, FormatConsole:
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc := zapcore.NewJSONEncoder(cfg)
		if format == FormatConsole {
			enc = zapcore.NewConsoleEncoder(cfg)
		}
		core := zapcore.NewCore(enc, zapcore.AddSync(w), lvl)
		return NewZapLogger(zap.New(core)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// Listener returns an events.Listener logging every event through l.
// Skips and retries are warnings, verbatim matches are debug output.
func Listener(ctx context.Context, l Logger) events.Listener {
	return func(e fmt.Stringer) {
		msg := strings.TrimPrefix(fmt.Sprintf("%T", e), "events.")
		switch e.(type) {
		case events.EventStanzaSkipped, events.EventReconcileRetry, events.EventFetchRetry:
			l.Warn(ctx, msg, "event", e.String())
		case events.EventRecordFound, events.EventNoChange:
			l.Debug(ctx, msg, "event", e.String())
		default:
			l.Info(ctx, msg, "event", e.String())
		}
	}
}
