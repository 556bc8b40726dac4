package observe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the per-request identifier.
	RequestIDHeader = "X-Request-ID"
	// CorrelationIDHeader carries the identifier shared by a chain of requests.
	CorrelationIDHeader = "X-Correlation-ID"

	// NoRequestID is recorded when a log call happens outside any request.
	NoRequestID = "-"
)

// RequestContext is the per-request state created by the lifecycle
// middleware. It is owned by a single request and never shared.
type RequestContext struct {
	RequestID     string
	CorrelationID string
	Start         time.Time
}

// requestKey is the context key for the RequestContext.
type requestKey struct{}

// NewRequestID returns a random UUID v4 string.
func NewRequestID() string {
	return uuid.NewString()
}

// ResolveIDs derives the request and correlation identifiers from the
// inbound headers. A missing or blank X-Request-ID gets a fresh UUID;
// a missing X-Correlation-ID falls back to the request ID.
func ResolveIDs(h http.Header) (requestID, correlationID string) {
	requestID = strings.TrimSpace(h.Get(RequestIDHeader))
	if requestID == "" {
		requestID = NewRequestID()
	}
	correlationID = strings.TrimSpace(h.Get(CorrelationIDHeader))
	if correlationID == "" {
		correlationID = requestID
	}
	return requestID, correlationID
}

// WithRequest stores the RequestContext in ctx.
func WithRequest(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestKey{}, rc)
}

// RequestFrom retrieves the RequestContext, if the context belongs to a request.
func RequestFrom(ctx context.Context) (*RequestContext, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(requestKey{}).(*RequestContext)
	return rc, ok && rc != nil
}

// RequestIDFrom returns the request ID from ctx, or NoRequestID.
func RequestIDFrom(ctx context.Context) string {
	if rc, ok := RequestFrom(ctx); ok && rc.RequestID != "" {
		return rc.RequestID
	}
	return NoRequestID
}

// CorrelationIDFrom returns the correlation ID from ctx, or NoRequestID.
func CorrelationIDFrom(ctx context.Context) string {
	if rc, ok := RequestFrom(ctx); ok && rc.CorrelationID != "" {
		return rc.CorrelationID
	}
	return NoRequestID
}

// DurationMillis converts d to whole milliseconds, clamping negative
// values to zero.
func DurationMillis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// Elapsed returns the whole milliseconds since the request started.
func (rc *RequestContext) Elapsed() int64 {
	return DurationMillis(time.Since(rc.Start))
}
