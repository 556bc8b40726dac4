package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/G1D0/webfront/internal/observe"
)

// Lifecycle wraps every request in a STARTED -> COMPLETED cycle.
//
// On start it resolves the request and correlation IDs, stores them with
// the start time and a logger carrying correlation_id in the request
// context, sets the X-Request-ID and X-Correlation-ID response headers and
// logs "request". On completion,
// which runs from a deferred call so it happens exactly once even when
// the handler panics, it logs "request_completed" with the status and
// duration_ms. A panic reaching this layer is logged as a 500 and
// re-raised.
func Lifecycle(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID, correlationID := observe.ResolveIDs(r.Header)
			rc := &observe.RequestContext{
				RequestID:     requestID,
				CorrelationID: correlationID,
				Start:         time.Now(),
			}

			reqLogger := observe.RequestLogger(logger, rc)
			ctx := observe.WithRequest(r.Context(), rc)
			ctx = observe.WithLogger(ctx, reqLogger)
			r = r.WithContext(ctx)

			capture := NewResponseCapture(w)
			setIDHeaders(capture.Header(), rc)
			remoteAddr := clientIP(r)

			reqLogger.InfoContext(ctx, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", remoteAddr,
				"user_agent", r.UserAgent(),
			)

			defer func() {
				p := recover()
				status := capture.StatusCode
				if p != nil {
					status = http.StatusInternalServerError
				}
				if !capture.Committed() {
					setIDHeaders(capture.Header(), rc)
				}

				reqLogger.InfoContext(ctx, "request_completed",
					"request_id", rc.RequestID,
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", capture.Written,
					"duration_ms", rc.Elapsed(),
					"remote_addr", remoteAddr,
				)

				if p != nil {
					panic(p)
				}
			}()

			next.ServeHTTP(capture, r)
		})
	}
}

func setIDHeaders(h http.Header, rc *observe.RequestContext) {
	h.Set(observe.RequestIDHeader, rc.RequestID)
	h.Set(observe.CorrelationIDHeader, rc.CorrelationID)
}

// clientIP returns the peer address without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
