package observe

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Level aliases for convenience.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

const (
	// AppLoggerName is the logger_name of application records.
	AppLoggerName = "webfront"
	// ServerLoggerName is the logger_name of the HTTP server's own stream.
	ServerLoggerName = "http.server"
)

// Format selects how log records are rendered.
type Format int

const (
	// FormatText renders "[LEVEL] timestamp - name [request_id=id] - message".
	FormatText Format = iota
	// FormatJSON renders one JSON object per line.
	FormatJSON
)

// Options configures the loggers built by NewLoggers.
type Options struct {
	Format Format
	Level  slog.Leveler // application threshold, defaults to INFO
	Writer io.Writer    // defaults to os.Stdout
}

// Loggers holds the two output streams: application records and the
// HTTP server's own records. They share a sink so lines never interleave.
type Loggers struct {
	App    *slog.Logger
	Server *slog.Logger
}

// loggerKey is the context key for the request-scoped logger.
type loggerKey struct{}

// NewLoggers creates the application and server loggers.
// The server stream always logs at INFO and above.
func NewLoggers(opts Options) Loggers {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	if opts.Level == nil {
		opts.Level = LevelInfo
	}
	s := &sink{w: opts.Writer}

	return Loggers{
		App:    slog.New(newHandler(s, opts.Format, opts.Level, AppLoggerName)),
		Server: slog.New(newHandler(s, opts.Format, LevelInfo, ServerLoggerName)),
	}
}

// NewLogger creates the application logger only.
func NewLogger(opts Options) *slog.Logger {
	return NewLoggers(opts).App
}

// Named returns a child logger whose records carry the given logger_name.
func Named(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(loggerNameKey, name)
}

// RequestLogger returns the logger used for the lifetime of one request:
// base annotated with the request's correlation_id.
func RequestLogger(base *slog.Logger, rc *RequestContext) *slog.Logger {
	return base.With(correlationIDKey, rc.CorrelationID)
}

// WithLogger stores the request-scoped logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom retrieves the request-scoped logger. Outside a request it
// returns fallback (slog.Default() when nil) carrying the "-" correlation_id,
// so records look the same either way.
func LoggerFrom(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	if fallback == nil {
		fallback = slog.Default()
	}
	return fallback.With(correlationIDKey, CorrelationIDFrom(ctx))
}
