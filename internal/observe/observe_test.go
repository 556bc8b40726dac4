package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// --- Metrics ---

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("/ping", "GET", "200").Inc()
	m.RequestDuration.WithLabelValues("/ping").Observe(0.05)
	m.ErrorsTotal.WithLabelValues("internal", "500").Inc()
	m.InFlight.Set(2)

	expected := `
# HELP webfront_requests_total Total number of requests processed.
# TYPE webfront_requests_total counter
webfront_requests_total{method="GET",route="/ping",status="200"} 1
`
	if err := testutil.CollectAndCompare(m.RequestsTotal, strings.NewReader(expected)); err != nil {
		t.Fatalf("metrics mismatch: %v", err)
	}
	if v := testutil.ToFloat64(m.InFlight); v != 2 {
		t.Fatalf("expected in-flight 2, got %.0f", v)
	}
}

func TestMetricsHandlerExposes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ErrorsTotal.WithLabelValues("controlled", "404").Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `webfront_errors_total{kind="controlled",status="404"} 1`) {
		t.Fatalf("exposition missing error counter:\n%s", rec.Body.String())
	}
}

// --- Structured Logging: JSON ---

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not valid JSON: %v\nline: %s", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestJSONLoggerRequiredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Options{Format: FormatJSON, Writer: &buf})

	logger.Info("test message", "key", "value", "count", 3)

	entry := decodeLines(t, &buf)[0]
	for _, k := range []string{"timestamp", "level", "logger_name", "message", "request_id"} {
		if _, ok := entry[k]; !ok {
			t.Errorf("missing field %q in %v", k, entry)
		}
	}
	if entry["message"] != "test message" {
		t.Errorf("expected message 'test message', got %v", entry["message"])
	}
	if entry["level"] != "INFO" {
		t.Errorf("expected level INFO, got %v", entry["level"])
	}
	if entry["logger_name"] != AppLoggerName {
		t.Errorf("expected logger_name %s, got %v", AppLoggerName, entry["logger_name"])
	}
	if entry["key"] != "value" {
		t.Errorf("expected key 'value', got %v", entry["key"])
	}
	if entry["count"] != float64(3) {
		t.Errorf("expected count 3, got %v", entry["count"])
	}
}

func TestJSONLoggerPlaceholderOutsideRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Options{Format: FormatJSON, Writer: &buf})

	logger.Info("startup")
	logger.InfoContext(context.Background(), "startup with ctx")

	for _, entry := range decodeLines(t, &buf) {
		if entry["request_id"] != NoRequestID {
			t.Errorf("expected request_id %q, got %v", NoRequestID, entry["request_id"])
		}
	}
}

func TestJSONLoggerRequestIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Options{Format: FormatJSON, Writer: &buf})

	ctx := WithRequest(context.Background(), &RequestContext{RequestID: "req-1", CorrelationID: "corr-1"})
	logger.InfoContext(ctx, "inside")

	entry := decodeLines(t, &buf)[0]
	if entry["request_id"] != "req-1" {
		t.Fatalf("expected request_id req-1, got %v", entry["request_id"])
	}
}

func TestJSONLoggerExplicitRequestIDWins(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Options{Format: FormatJSON, Writer: &buf})

	ctx := WithRequest(context.Background(), &RequestContext{RequestID: "from-ctx"})
	logger.InfoContext(ctx, "explicit", "request_id", "from-call")

	entry := decodeLines(t, &buf)[0]
	if entry["request_id"] != "from-call" {
		t.Fatalf("expected request_id from-call, got %v", entry["request_id"])
	}
}

func TestJSONLoggerReservedKeysAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Options{Format: FormatJSON, Writer: &buf})

	logger.WithGroup("http").Info("grouped",
		slog.String("method", "GET"),
	)
	logger.Info("collide", "message", "shadow", "err", errors.New("boom"), "took", 1500*time.Millisecond)

	entries := decodeLines(t, &buf)
	if entries[0]["http.method"] != "GET" {
		t.Errorf("expected flattened http.method, got %v", entries[0])
	}
	if entries[1]["message"] != "collide" || entries[1]["field_message"] != "shadow" {
		t.Errorf("reserved key should be renamed, got %v", entries[1])
	}
	if entries[1]["err"] != "boom" {
		t.Errorf("expected error text, got %v", entries[1]["err"])
	}
	if entries[1]["took"] != float64(1500*time.Millisecond) {
		t.Errorf("expected duration in ns, got %v", entries[1]["took"])
	}
}

func TestJSONLoggerBuiltinKeyNamesStayCallSiteFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Options{Format: FormatJSON, Writer: &buf})

	logger.Info("builtin names", "time", "noon", "msg", "hi", "level", "high")

	entry := decodeLines(t, &buf)[0]
	if entry["message"] != "builtin names" || entry["level"] != "INFO" {
		t.Fatalf("fixed fields overwritten: %v", entry)
	}
	if entry["time"] != "noon" || entry["msg"] != "hi" || entry["field_level"] != "high" {
		t.Fatalf("call-site fields lost: %v", entry)
	}
	if _, err := time.Parse(time.RFC3339Nano, entry["timestamp"].(string)); err != nil {
		t.Fatalf("timestamp is not RFC 3339: %v", entry["timestamp"])
	}
}

func TestNamedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Named(NewLogger(Options{Format: FormatJSON, Writer: &buf}), "webfront.web")

	logger.Info("named")

	entry := decodeLines(t, &buf)[0]
	if entry["logger_name"] != "webfront.web" {
		t.Fatalf("expected logger_name webfront.web, got %v", entry["logger_name"])
	}
	if strings.Count(buf.String(), loggerNameKey) != 1 {
		t.Fatalf("logger_name should appear once: %s", buf.String())
	}
}

// --- Structured Logging: text ---

var textLine = regexp.MustCompile(`^\[(DEBUG|INFO|WARN|ERROR)\] \d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d{3} - \S+ \[request_id=([^\]]+)\] - (.*)$`)

func TestTextLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Options{Format: FormatText, Level: LevelDebug, Writer: &buf})

	ctx := WithRequest(context.Background(), &RequestContext{RequestID: "abc123"})
	logger.DebugContext(ctx, "home accessed", "path", "/", "agent", "curl 8.0")
	logger.Info("outside")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	m := textLine.FindStringSubmatch(lines[0])
	if m == nil {
		t.Fatalf("line does not match text format: %s", lines[0])
	}
	if m[1] != "DEBUG" || m[2] != "abc123" {
		t.Errorf("unexpected level/request_id: %v", m[1:3])
	}
	if m[3] != `home accessed path=/ agent="curl 8.0"` {
		t.Errorf("unexpected message part: %s", m[3])
	}

	m = textLine.FindStringSubmatch(lines[1])
	if m == nil {
		t.Fatalf("line does not match text format: %s", lines[1])
	}
	if m[2] != NoRequestID {
		t.Errorf("expected placeholder request_id, got %s", m[2])
	}
}

func TestTextLoggerQuotesForeignRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Options{Format: FormatText, Writer: &buf})

	ctx := WithRequest(context.Background(), &RequestContext{RequestID: "a] - forged [request_id=b"})
	logger.InfoContext(ctx, "request")

	line := strings.TrimSuffix(buf.String(), "\n")
	if strings.Count(line, "[request_id=") != 1 {
		t.Fatalf("request_id segment forged: %s", line)
	}
	m := textLine.FindStringSubmatch(line)
	if m == nil {
		t.Fatalf("line does not match text format: %s", line)
	}
	if m[2] != `"a\x5d - forged \x5brequest_id=b"` || m[3] != "request" {
		t.Fatalf("unexpected request_id %s / message %s", m[2], m[3])
	}
}

func TestTextLoggerKeepsRecordsOnOneLine(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Options{Format: FormatText, Writer: &buf})

	logger.Info("first\nsecond\r", "detail", "a\nb")
	logger.Info("next")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	m := textLine.FindStringSubmatch(lines[0])
	if m == nil {
		t.Fatalf("line does not match text format: %s", lines[0])
	}
	if m[3] != `first\nsecond\r detail="a\nb"` {
		t.Fatalf("unexpected message part: %s", m[3])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Options{Format: FormatJSON, Level: LevelWarn, Writer: &buf})

	logger.Info("should be filtered")
	if buf.Len() > 0 {
		t.Fatal("info message should be filtered at warn level")
	}

	logger.Warn("should appear")
	if buf.Len() == 0 {
		t.Fatal("warn message should appear at warn level")
	}
}

func TestServerStreamIndependentLevel(t *testing.T) {
	var buf bytes.Buffer
	loggers := NewLoggers(Options{Format: FormatJSON, Level: LevelError, Writer: &buf})

	loggers.App.Info("app filtered")
	loggers.Server.Info("server started")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0]["logger_name"] != ServerLoggerName {
		t.Fatalf("expected server logger name, got %v", entries[0]["logger_name"])
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

type panickingWriter struct{}

func (panickingWriter) Write([]byte) (int, error) { panic("closed") }

func TestLoggerWriteFailuresAreSwallowed(t *testing.T) {
	for _, w := range []interface{ Write([]byte) (int, error) }{failingWriter{}, panickingWriter{}} {
		logger := NewLogger(Options{Format: FormatJSON, Writer: w})
		logger.Error("nobody hears this")
	}
}

// lineRecorder records every Write call separately.
type lineRecorder struct {
	mu     sync.Mutex
	writes []string
}

func (l *lineRecorder) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, string(b))
	return len(b), nil
}

func TestConcurrentWritesAreWholeLines(t *testing.T) {
	rec := &lineRecorder{}
	logger := NewLogger(Options{Format: FormatJSON, Writer: rec})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := WithRequest(context.Background(), &RequestContext{RequestID: NewRequestID()})
			logger.InfoContext(ctx, "concurrent", "i", i)
		}(i)
	}
	wg.Wait()

	if len(rec.writes) != 50 {
		t.Fatalf("expected 50 writes, got %d", len(rec.writes))
	}
	for _, w := range rec.writes {
		if strings.Count(w, "\n") != 1 || !strings.HasSuffix(w, "}\n") {
			t.Fatalf("write is not a single line: %q", w)
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(w), &entry); err != nil {
			t.Fatalf("invalid JSON line %q: %v", w, err)
		}
	}
}

func TestLoggerContext(t *testing.T) {
	logger := slog.Default()
	ctx := WithLogger(context.Background(), logger)

	got := LoggerFrom(ctx, nil)
	if got != logger {
		t.Fatal("should retrieve same logger from context")
	}
}

func TestRequestLoggerCarriesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(Options{Format: FormatJSON, Writer: &buf})
	rc := &RequestContext{RequestID: "req-1", CorrelationID: "corr-1"}
	ctx := WithLogger(WithRequest(context.Background(), rc), RequestLogger(base, rc))

	LoggerFrom(ctx, nil).InfoContext(ctx, "scoped")

	entry := decodeLines(t, &buf)[0]
	if entry["request_id"] != "req-1" || entry["correlation_id"] != "corr-1" {
		t.Fatalf("unexpected IDs: %v", entry)
	}
}

func TestLoggerContextFallback(t *testing.T) {
	var buf bytes.Buffer
	fallback := NewLogger(Options{Format: FormatJSON, Writer: &buf})

	LoggerFrom(context.Background(), fallback).Info("outside")

	entry := decodeLines(t, &buf)[0]
	if entry["correlation_id"] != NoRequestID {
		t.Fatalf("expected placeholder correlation_id, got %v", entry["correlation_id"])
	}
	if LoggerFrom(context.Background(), nil) == nil {
		t.Fatal("should fall back to the default logger")
	}
}

// --- Identifier resolution ---

func TestNewRequestIDUnique(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewRequestID()
		if ids[id] {
			t.Fatalf("duplicate request ID: %s", id)
		}
		ids[id] = true
	}
}

func TestNewRequestIDIsUUID(t *testing.T) {
	id := NewRequestID()
	if len(id) != 36 || strings.Count(id, "-") != 4 {
		t.Fatalf("expected canonical UUID string, got %s", id)
	}
}

func TestResolveIDs(t *testing.T) {
	tests := []struct {
		name            string
		requestID       string
		correlationID   string
		wantRequest     string
		wantCorrelation string
	}{
		{"both supplied", "abc123", "xyz", "abc123", "xyz"},
		{"only request", "abc123", "", "abc123", "abc123"},
		{"only correlation", "", "xyz", "", "xyz"},
		{"blank request", "   ", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.requestID != "" {
				h.Set(RequestIDHeader, tt.requestID)
			}
			if tt.correlationID != "" {
				h.Set(CorrelationIDHeader, tt.correlationID)
			}

			reqID, corrID := ResolveIDs(h)
			if reqID == "" {
				t.Fatal("request ID must never be empty")
			}
			if tt.wantRequest != "" && reqID != tt.wantRequest {
				t.Errorf("expected request ID %s, got %s", tt.wantRequest, reqID)
			}
			wantCorr := tt.wantCorrelation
			if wantCorr == "" {
				wantCorr = reqID
			}
			if corrID != wantCorr {
				t.Errorf("expected correlation ID %s, got %s", wantCorr, corrID)
			}
		})
	}
}

func TestRequestContextHelpers(t *testing.T) {
	if got := RequestIDFrom(context.Background()); got != NoRequestID {
		t.Fatalf("expected placeholder, got %s", got)
	}
	if got := CorrelationIDFrom(context.Background()); got != NoRequestID {
		t.Fatalf("expected placeholder, got %s", got)
	}

	ctx := WithRequest(context.Background(), &RequestContext{RequestID: "r", CorrelationID: "c", Start: time.Now()})
	if RequestIDFrom(ctx) != "r" || CorrelationIDFrom(ctx) != "c" {
		t.Fatal("helpers should read values from context")
	}
}

func TestDurationMillis(t *testing.T) {
	if got := DurationMillis(1999 * time.Microsecond); got != 1 {
		t.Errorf("expected truncation to 1ms, got %d", got)
	}
	if got := DurationMillis(-5 * time.Millisecond); got != 0 {
		t.Errorf("negative durations must clamp to 0, got %d", got)
	}

	rc := &RequestContext{Start: time.Now().Add(-20 * time.Millisecond)}
	if got := rc.Elapsed(); got < 20 {
		t.Errorf("expected at least 20ms elapsed, got %d", got)
	}
}
