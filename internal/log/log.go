// Package log provides the structured logging helper used by the subsystem
// packages. internal/actor declares a package level `log` variable plus a
// `UseLogger` setter, the same pattern the daemon's btcsuite-derived
// logging uses: callers wire up the concrete handler once at startup via
// `actor.UseLogger(logger)`, and every other call site in that package logs
// through the package variable. Until wired, logging is a no-op via
// Disabled. internal/remote, internal/sharding and internal/persistence
// have no package variable; they receive a btclog.Logger through their
// constructors.
package log

import (
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btclog"
)

// SubLogger wraps a btclog.Logger with structured, context-aware helpers
// ("...S" methods) taking alternating key/value pairs. This is the type
// internal/actor's package-level `log` variable holds.
type SubLogger struct {
	btclog.Logger
}

// NewSubLogger wraps the given btclog.Logger for structured logging.
func NewSubLogger(l btclog.Logger) *SubLogger {
	return &SubLogger{Logger: l}
}

// Disabled is a SubLogger that discards everything, used as the default
// value before a subsystem's UseLogger is called.
var Disabled = NewSubLogger(btclog.Disabled)

// kvString renders alternating key/value pairs as " k1=v1 k2=v2 ...".
func kvString(kvs []any) string {
	if len(kvs) == 0 {
		return ""
	}

	var sb strings.Builder
	for i := 0; i < len(kvs); i += 2 {
		if i > 0 {
			sb.WriteByte(' ')
		}

		if i+1 < len(kvs) {
			fmt.Fprintf(&sb, "%v=%v", kvs[i], kvs[i+1])
		} else {
			fmt.Fprintf(&sb, "%v=<missing>", kvs[i])
		}
	}

	return " " + sb.String()
}

type traceIDKey struct{}

// WithTraceID returns a context carrying a trace id for correlation in
// subsequent structured log calls made with that context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func traceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceIDKey{}).(string); ok {
		return v
	}
	return ""
}

func (l *SubLogger) format(ctx context.Context, msg string, kvs []any) string {
	if tid := traceIDFromContext(ctx); tid != "" {
		return fmt.Sprintf("%s%s trace_id=%s", msg, kvString(kvs), tid)
	}

	return msg + kvString(kvs)
}

// TraceS logs a structured message at trace level.
func (l *SubLogger) TraceS(ctx context.Context, msg string, kvs ...any) {
	l.Tracef("%s", l.format(ctx, msg, kvs))
}

// DebugS logs a structured message at debug level.
func (l *SubLogger) DebugS(ctx context.Context, msg string, kvs ...any) {
	l.Debugf("%s", l.format(ctx, msg, kvs))
}

// InfoS logs a structured message at info level.
func (l *SubLogger) InfoS(ctx context.Context, msg string, kvs ...any) {
	l.Infof("%s", l.format(ctx, msg, kvs))
}

// WarnS logs a structured message at warn level, attaching err if non-nil.
func (l *SubLogger) WarnS(ctx context.Context, msg string, err error, kvs ...any) {
	if err != nil {
		kvs = append(kvs, "error", err)
	}
	l.Warnf("%s", l.format(ctx, msg, kvs))
}

// ErrorS logs a structured message at error level, attaching err if
// non-nil.
func (l *SubLogger) ErrorS(ctx context.Context, msg string, err error, kvs ...any) {
	if err != nil {
		kvs = append(kvs, "error", err)
	}
	l.Errorf("%s", l.format(ctx, msg, kvs))
}
