// Package logging provides the structured logger shared by inteldesk
// components.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// Format selects the slog handler.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
	// FormatAuto picks text for terminals and JSON otherwise.
	FormatAuto Format = "auto"
)

// Options configures a root logger.
type Options struct {
	Level  string
	Format Format
	Output io.Writer
}

// Logger is a structured logger for inteldesk components
type Logger struct {
	*slog.Logger
}

// New creates a root logger from opts.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch resolveFormat(opts.Format, out) {
	case FormatText:
		handler = slog.NewTextHandler(out, handlerOpts)
	default:
		handler = slog.NewJSONHandler(out, handlerOpts)
	}

	return &Logger{Logger: slog.New(handler).With(slog.String("system", "inteldesk"))}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil || l.Logger == nil {
		return Nop()
	}
	return l
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels. Empty
// means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func resolveFormat(f Format, out io.Writer) Format {
	switch f {
	case FormatJSON, FormatText:
		return f
	}
	if file, ok := out.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		return FormatText
	}
	return FormatJSON
}

// WithComponent returns a logger with component-specific fields
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("component", component))}
}

// WithOperation returns a logger with operation-specific fields
func (l *Logger) WithOperation(operationID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("operation_id", operationID))}
}

// WithDelivery returns a logger with delivery-specific fields
func (l *Logger) WithDelivery(deliveryID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("delivery_id", deliveryID))}
}

// FeedSubscribed logs the first subscriber attaching to an operation feed
func (l *Logger) FeedSubscribed(operationID string) {
	l.Info("feed subscribed",
		slog.String("operation_id", operationID),
	)
}

// FeedUnsubscribed logs the last subscriber detaching from an operation feed
func (l *Logger) FeedUnsubscribed(operationID string) {
	l.Info("feed unsubscribed",
		slog.String("operation_id", operationID),
	)
}

// DeliveriesMerged logs a push applied to the open delivery list
func (l *Logger) DeliveriesMerged(operationID string, received, total, added, removed int) {
	l.Debug("open deliveries merged",
		slog.String("operation_id", operationID),
		slog.Int("received", received),
		slog.Int("total", total),
		slog.Int("added", added),
		slog.Int("removed", removed),
	)
}

// EnrichmentFailed logs a detail field that could not be resolved
func (l *Logger) EnrichmentFailed(deliveryID, field, key string, err error) {
	l.Warn("enrichment failed",
		slog.String("delivery_id", deliveryID),
		slog.String("field", field),
		slog.String("key", key),
		slog.String("error", err.Error()),
	)
}

// SelectionChanged logs a change of the selected delivery
func (l *Logger) SelectionChanged(previous, next, reason string) {
	l.Info("selection changed",
		slog.String("previous", previous),
		slog.String("next", next),
		slog.String("reason", reason),
	)
}

// CacheSwept logs an age-based cache sweep
func (l *Logger) CacheSwept(cache string, evicted int, maxAge time.Duration) {
	l.Debug("cache swept",
		slog.String("cache", cache),
		slog.Int("evicted", evicted),
		slog.Duration("max_age", maxAge),
	)
}

// RequestFailed logs a failed bus request
func (l *Logger) RequestFailed(subject string, attempt int, err error) {
	l.Warn("request failed",
		slog.String("subject", subject),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}
