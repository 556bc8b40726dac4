// Package web holds the route handlers and the router that dispatches them.
package web

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/G1D0/webfront/internal/httperr"
	"github.com/G1D0/webfront/internal/middleware"
	"github.com/G1D0/webfront/internal/observe"
)

// Options holds the router's dependencies.
type Options struct {
	Env      string // operating mode name shown on the home page
	Renderer *Renderer
	Errors   *middleware.ErrorInterceptor
	Logger   *slog.Logger

	// Metrics and Gatherer are optional; without them /metrics is not served.
	Metrics  *observe.Metrics
	Gatherer prometheus.Gatherer
}

type handlers struct {
	env      string
	renderer *Renderer
	logger   *slog.Logger
}

const loggerName = observe.AppLoggerName + ".web"

// log returns the request-scoped logger under this package's name.
func (h *handlers) log(r *http.Request) *slog.Logger {
	return observe.Named(observe.LoggerFrom(r.Context(), h.logger), loggerName)
}

type indexPage struct {
	Message   string
	RequestID string
}

// NewRouter builds the route table. Unknown paths and wrong methods are
// answered by the error interceptor as controlled errors.
func NewRouter(opts Options) *mux.Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{
		env:      opts.Env,
		renderer: opts.Renderer,
		logger:   logger,
	}
	ei := opts.Errors

	r := mux.NewRouter()
	if opts.Metrics != nil {
		r.Use(mux.MiddlewareFunc(middleware.Metrics(opts.Metrics)))
	}

	r.Handle("/", ei.Handler(h.home)).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/ping", ei.Handler(h.ping)).Methods(http.MethodGet, http.MethodHead)
	if opts.Gatherer != nil {
		r.Handle("/metrics", observe.Handler(opts.Gatherer)).Methods(http.MethodGet)
	}

	var notFound, notAllowed http.Handler
	notFound = ei.Handler(func(http.ResponseWriter, *http.Request) error {
		return httperr.NotFound("")
	})
	notAllowed = ei.Handler(func(http.ResponseWriter, *http.Request) error {
		return httperr.MethodNotAllowed("")
	})
	// mux skips Use middleware for its fallback handlers.
	if opts.Metrics != nil {
		notFound = middleware.Metrics(opts.Metrics)(notFound)
		notAllowed = middleware.Metrics(opts.Metrics)(notAllowed)
	}
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = notAllowed

	return r
}

func (h *handlers) home(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	requestID := observe.RequestIDFrom(ctx)
	h.log(r).InfoContext(ctx, "home accessed", "request_id", requestID)

	return h.renderer.Render(w, http.StatusOK, "index.html", indexPage{
		Message:   "Environment: " + h.env,
		RequestID: requestID,
	})
}

func (h *handlers) ping(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	h.log(r).InfoContext(ctx, "ping accessed", "request_id", observe.RequestIDFrom(ctx))

	return middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
