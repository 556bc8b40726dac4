package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/G1D0/webfront/internal/observe"
)

// Metrics records request count, duration and in-flight gauge, labelled
// by the matched route template. Meant to run as router middleware so
// the route is known.
func Metrics(m *observe.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rc := NewResponseCapture(w)
			route := routeTemplate(r)

			m.InFlight.Inc()
			defer func() {
				m.InFlight.Dec()
				status := rc.StatusCode
				p := recover()
				if p != nil {
					status = http.StatusInternalServerError
				}
				m.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
				m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
				if p != nil {
					panic(p)
				}
			}()

			next.ServeHTTP(rc, r)
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
