// Package logging configures the process-wide logrus logger and carries a
// per-invocation logger and correlation id through context.Context.  Every
// HTTP request, consumed message and scheduled task gets its own context;
// nothing about a single invocation is stored globally.
package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/lithammer/shortuuid/v3"
	"github.com/sirupsen/logrus"
)

// CorrelationIDHeader is used both on HTTP requests/responses and as the
// AMQP message header carrying the id across the broker.
const CorrelationIDHeader = "X-Correlation-ID"

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	loggerKey
)

// Init sets the global level and formatter.  Outside of the "dev"
// environment logs are emitted as JSON.
func Init(level, env string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stdout)
	if env == "dev" || env == "test" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		return
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})
}

// Discard silences the global logger; used by tests.
func Discard() {
	logrus.SetOutput(io.Discard)
}

// NewCorrelationID derives a fresh id for work that did not originate from
// a client request, such as broker timers and polling sweeps.
func NewCorrelationID() string {
	return "gen_" + shortuuid.New()
}

// WithCorrelationID stores id in ctx and attaches a logger carrying it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	ctx = context.WithValue(ctx, correlationIDKey, id)
	return context.WithValue(ctx, loggerKey, logrus.WithField("correlation_id", id))
}

// CorrelationID returns the id stored in ctx or "" when none is present.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns the invocation logger, falling back to the standard
// logger when ctx carries none.
func FromContext(ctx context.Context) *logrus.Entry {
	if l, ok := ctx.Value(loggerKey).(*logrus.Entry); ok {
		return l
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// WithFields returns a child context whose logger has the extra fields.
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	return context.WithValue(ctx, loggerKey, FromContext(ctx).WithFields(fields))
}
