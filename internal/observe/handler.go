package observe

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	loggerNameKey = "logger_name"
	requestIDKey  = "request_id"

	correlationIDKey = "correlation_id"

	textTimeLayout = "2006-01-02 15:04:05,000"
)

// escapedKeyPrefix marks call-site keys that share a name with slog's
// built-in time and msg keys, so replaceJSONAttr leaves them alone.
const escapedKeyPrefix = "\x00"

// sink serializes writes so each record lands as one Write call.
type sink struct {
	mu sync.Mutex
	w  io.Writer
}

// Write never reports failure: a broken log stream must not affect requests.
func (s *sink) Write(b []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if recover() != nil {
			n, err = len(b), nil
		}
	}()
	_, _ = s.w.Write(b)
	return len(b), nil
}

type field struct {
	key string
	val slog.Value
}

// handler resolves logger_name and request_id for every record, flattens
// groups into dotted keys, then renders the text line itself or hands the
// record to slog's JSON handler.
type handler struct {
	sink   *sink
	json   slog.Handler // nil for FormatText
	level  slog.Leveler
	name   string
	fields []field
	group  string
}

func newHandler(s *sink, format Format, level slog.Leveler, name string) *handler {
	h := &handler{sink: s, level: level, name: name}
	if format == FormatJSON {
		h.json = slog.NewJSONHandler(s, &slog.HandlerOptions{ReplaceAttr: replaceJSONAttr})
	}
	return h
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	for _, a := range attrs {
		h2.fields = appendAttr(h2.fields, h2.group, a)
	}
	return h2
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.group = h.group + name + "."
	return h2
}

func (h *handler) clone() *handler {
	h2 := *h
	h2.fields = slices.Clip(h.fields)
	return &h2
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	fields := make([]field, 0, len(h.fields)+r.NumAttrs())
	fields = append(fields, h.fields...)
	r.Attrs(func(a slog.Attr) bool {
		fields = appendAttr(fields, h.group, a)
		return true
	})

	rec := record{
		time:    r.Time,
		level:   r.Level,
		name:    h.name,
		message: r.Message,
	}
	if rec.time.IsZero() {
		rec.time = time.Now()
	}

	kept := fields[:0]
	for _, f := range fields {
		switch f.key {
		case loggerNameKey:
			rec.name = f.val.String()
		case requestIDKey:
			rec.requestID = f.val.String()
		default:
			kept = append(kept, f)
		}
	}
	rec.fields = kept
	if rec.requestID == "" {
		rec.requestID = RequestIDFrom(ctx)
	}

	if h.json != nil {
		_ = h.json.Handle(ctx, rec.jsonRecord(r.PC))
		return nil
	}
	_, _ = h.sink.Write(rec.appendText(make([]byte, 0, 256)))
	return nil
}

func appendAttr(fields []field, prefix string, a slog.Attr) []field {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return fields
	}
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range attrs {
			fields = appendAttr(fields, prefix, ga)
		}
		return fields
	}
	return append(fields, field{key: prefix + a.Key, val: a.Value})
}

// record is one resolved log line.
type record struct {
	time      time.Time
	level     slog.Level
	name      string
	message   string
	requestID string
	fields    []field
}

// messageEscaper keeps a record on one line.
var messageEscaper = strings.NewReplacer("\n", `\n`, "\r", `\r`)

// requestIDEscaper keeps a quoted request_id from closing the bracket.
var requestIDEscaper = strings.NewReplacer("[", `\x5b`, "]", `\x5d`)

func (rec *record) appendText(b []byte) []byte {
	b = append(b, '[')
	b = append(b, rec.level.String()...)
	b = append(b, "] "...)
	b = rec.time.AppendFormat(b, textTimeLayout)
	b = append(b, " - "...)
	b = append(b, rec.name...)
	b = append(b, " [request_id="...)
	b = appendRequestID(b, rec.requestID)
	b = append(b, "] - "...)
	b = append(b, messageEscaper.Replace(rec.message)...)
	for _, f := range rec.fields {
		b = append(b, ' ')
		b = append(b, f.key...)
		b = append(b, '=')
		b = appendTextValue(b, f.val)
	}
	return append(b, '\n')
}

// appendRequestID writes id verbatim when it is a plain token and quoted
// otherwise. The id usually comes from a client header.
func appendRequestID(b []byte, id string) []byte {
	if !needsQuoting(id) && !strings.ContainsAny(id, "[]") {
		return append(b, id...)
	}
	return append(b, requestIDEscaper.Replace(strconv.QuoteToASCII(id))...)
}

// jsonRecord rebuilds the record with logger_name and request_id first
// and call-site keys renamed away from the fixed fields.
func (rec *record) jsonRecord(pc uintptr) slog.Record {
	out := slog.NewRecord(rec.time, rec.level, rec.message, pc)
	out.AddAttrs(
		slog.String(loggerNameKey, rec.name),
		slog.String(requestIDKey, rec.requestID),
	)
	for _, f := range rec.fields {
		out.AddAttrs(slog.Attr{Key: jsonFieldKey(f.key), Value: f.val})
	}
	return out
}

func jsonFieldKey(key string) string {
	switch key {
	case "timestamp", slog.LevelKey, "message":
		return "field_" + key
	case slog.TimeKey, slog.MessageKey:
		return escapedKeyPrefix + key
	}
	return key
}

// replaceJSONAttr renames slog's built-in time and msg keys.
func replaceJSONAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		a.Key = "timestamp"
	case slog.MessageKey:
		a.Key = "message"
	default:
		a.Key = strings.TrimPrefix(a.Key, escapedKeyPrefix)
	}
	return a
}

func appendTextValue(b []byte, v slog.Value) []byte {
	s := valueString(v)
	if needsQuoting(s) {
		return strconv.AppendQuote(b, s)
	}
	return append(b, s...)
}

func valueString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.String()
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if unicode.IsSpace(r) || r == '=' || r == '"' || !unicode.IsPrint(r) {
			return true
		}
	}
	return false
}
