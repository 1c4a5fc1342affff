// Package logger wraps zerolog with context-carried fields so request,
// payment and event identifiers follow a unit of work across layers.
package logger

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/angelmondragon/paysaga-backend/pkg/env"
	"github.com/rs/zerolog"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options configures the structured logger. Static fields are stamped on
// every entry, typically service_kind and env.
type Options struct {
	ServiceName string
	Level       zerolog.Level
	// Format is json or console. Empty reads PAYSAGA_LOG_FORMAT.
	Format    string
	WarnStack bool
	Output    io.Writer
	Static    map[string]string
}

type Logger struct {
	base      zerolog.Logger
	warnStack bool
}

type ctxKey struct{}

func New(opts Options) *Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	format := opts.Format
	if format == "" {
		format = env.Get("PAYSAGA_LOG_FORMAT", FormatJSON)
	}
	if strings.EqualFold(format, FormatConsole) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	zctx := zerolog.New(out).With().Timestamp().Str("service", opts.ServiceName)
	for k, v := range opts.Static {
		if v != "" {
			zctx = zctx.Str(k, v)
		}
	}
	return &Logger{base: zctx.Logger().Level(opts.Level), warnStack: opts.WarnStack}
}

// ParseLevel falls back to info for empty or unknown values.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func (l *Logger) entry(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if bound, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
			return bound
		}
	}
	return &l.base
}

func (l *Logger) derive(ctx context.Context, with func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	next := with(l.entry(ctx).With()).Logger()
	return context.WithValue(ctx, ctxKey{}, &next)
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.derive(ctx, func(c zerolog.Context) zerolog.Context { return c.Interface(key, value) })
}

// WithFields binds several fields at once; keys are emitted in sorted order.
func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	return l.derive(ctx, func(c zerolog.Context) zerolog.Context { return c.Fields(fields) })
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

func (l *Logger) WithPaymentID(ctx context.Context, paymentID string) context.Context {
	return l.WithField(ctx, "payment_id", paymentID)
}

func (l *Logger) WithEventID(ctx context.Context, eventID string) context.Context {
	return l.WithField(ctx, "event_id", eventID)
}

// WithEvent tags entries with an outbox or broker event's identity.
func (l *Logger) WithEvent(ctx context.Context, eventID, eventType, aggregateID string) context.Context {
	return l.derive(ctx, func(c zerolog.Context) zerolog.Context {
		c = c.Str("event_id", eventID).Str("event_type", eventType)
		if aggregateID != "" {
			c = c.Str("aggregate_id", aggregateID)
		}
		return c
	})
}

// WithOperator tags entries with the subject of an authenticated ops token.
func (l *Logger) WithOperator(ctx context.Context, subject string) context.Context {
	return l.WithField(ctx, "operator", subject)
}

func (l *Logger) Debug(ctx context.Context, msg string) {
	l.entry(ctx).Debug().Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.entry(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	ev := l.entry(ctx).Warn()
	if l.warnStack {
		ev = ev.Str("stack", stackTrace())
	}
	ev.Msg(msg)
}

// Error always records the stack.
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	ev := l.entry(ctx).Error()
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Str("stack", stackTrace()).Msg(msg)
}

func stackTrace() string {
	return strings.TrimSpace(string(debug.Stack()))
}
