package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/G1D0/webfront/internal/httperr"
	"github.com/G1D0/webfront/internal/observe"
)

// InternalErrorMessage is the only message clients see for uncontrolled faults.
const InternalErrorMessage = "Internal server error"

// ErrorResponse is the JSON body of every error answer.
type ErrorResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	RequestID     string `json:"request_id"`
	CorrelationID string `json:"correlation_id"`
}

// AppHandler is a route handler that reports failure by returning an error
// instead of writing its own error response.
type AppHandler func(http.ResponseWriter, *http.Request) error

// ErrorInterceptor is the single terminal point for unhandled faults:
// errors returned by AppHandlers and panics caught by Recover.
type ErrorInterceptor struct {
	logger  *slog.Logger
	metrics *observe.Metrics
}

// NewErrorInterceptor creates an interceptor. metrics may be nil.
func NewErrorInterceptor(logger *slog.Logger, metrics *observe.Metrics) *ErrorInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorInterceptor{logger: logger, metrics: metrics}
}

// Classify maps err to the status and message sent to the client.
// Controlled errors keep their own; everything else becomes a generic 500.
func Classify(err error) (status int, message string) {
	if e, ok := httperr.As(err); ok {
		return e.Status, e.Message
	}
	return http.StatusInternalServerError, InternalErrorMessage
}

// Handle logs err with the request's context and writes the JSON error
// body, unless the response was already committed. Uncontrolled errors
// are logged with the stack of the goroutine that reported them.
func (ei *ErrorInterceptor) Handle(w http.ResponseWriter, r *http.Request, err error) {
	var stack []byte
	if _, ok := httperr.As(err); !ok {
		stack = debug.Stack()
	}
	ei.handle(w, r, err, stack)
}

func (ei *ErrorInterceptor) handle(w http.ResponseWriter, r *http.Request, err error, stack []byte) {
	ctx := r.Context()
	status, message := Classify(err)
	requestID := observe.RequestIDFrom(ctx)
	correlationID := observe.CorrelationIDFrom(ctx)

	attrs := []any{
		"request_id", requestID,
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err,
	}
	if stack != nil {
		attrs = append(attrs, "stack", string(stack))
	}
	observe.LoggerFrom(ctx, ei.logger).ErrorContext(ctx, "unhandled error", attrs...)

	if ei.metrics != nil {
		kind := "internal"
		if _, ok := httperr.As(err); ok {
			kind = "controlled"
		}
		ei.metrics.ErrorsTotal.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	}

	if c, ok := w.(interface{ Committed() bool }); ok && c.Committed() {
		return
	}
	_ = WriteJSON(w, status, ErrorResponse{
		Status:        "error",
		Message:       message,
		RequestID:     requestID,
		CorrelationID: correlationID,
	})
}

// Handler adapts an AppHandler, routing its returned error to Handle.
func (ei *ErrorInterceptor) Handler(h AppHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			ei.Handle(w, r, err)
		}
	})
}

// Recover catches panics from the rest of the chain and answers them
// through the interceptor. http.ErrAbortHandler is re-raised untouched.
func (ei *ErrorInterceptor) Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				ei.handle(w, r, panicError(p), debug.Stack())
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func panicError(p any) error {
	if err, ok := p.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", p)
}

// WriteJSON writes v as a single JSON document with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}
