package middleware

import "net/http"

// ResponseCapture wraps http.ResponseWriter to capture the status code,
// bytes written, and whether the response has been committed. Needed by
// the lifecycle, error, and metrics middleware since http.ResponseWriter
// doesn't expose any of that after WriteHeader().
type ResponseCapture struct {
	http.ResponseWriter
	StatusCode  int
	Written     int64
	WroteHeader bool
}

// NewResponseCapture wraps a ResponseWriter. Wrapping an existing
// ResponseCapture returns it unchanged so nested middleware share state.
func NewResponseCapture(w http.ResponseWriter) *ResponseCapture {
	if rc, ok := w.(*ResponseCapture); ok {
		return rc
	}
	return &ResponseCapture{
		ResponseWriter: w,
		StatusCode:     http.StatusOK, // default if WriteHeader is never called
	}
}

// WriteHeader captures the status code then delegates.
func (rc *ResponseCapture) WriteHeader(code int) {
	if rc.WroteHeader {
		return
	}
	rc.StatusCode = code
	rc.WroteHeader = true
	rc.ResponseWriter.WriteHeader(code)
}

// Write captures bytes written then delegates.
func (rc *ResponseCapture) Write(b []byte) (int, error) {
	rc.WroteHeader = true
	n, err := rc.ResponseWriter.Write(b)
	rc.Written += int64(n)
	return n, err
}

// Committed reports whether headers have already been sent.
func (rc *ResponseCapture) Committed() bool {
	return rc.WroteHeader
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rc *ResponseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}
