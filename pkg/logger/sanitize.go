package logger

import (
	"context"
	"log/slog"
	"regexp"
)

const masked = "***"

var (
	// Query-string parameters whose name ends in "key" (key=, api_key=,
	// apikey=) carry credentials in provider URLs.
	keyParamPattern = regexp.MustCompile(`([?&][A-Za-z0-9_-]*[Kk]ey=)[^&\s"]+`)

	// Authorization headers in any "Header: value" or "Header=value" spelling.
	authHeaderPattern = regexp.MustCompile(`([Aa]uthorization[:=]\s*)\S+(\s+\S+)?`)

	// Bare bearer credentials that escaped into free text.
	bearerPattern = regexp.MustCompile(`([Bb]earer\s+)[A-Za-z0-9._~+/-]+=*`)
)

// Sanitize masks credential material in s: `key=` query parameters,
// Authorization header values, and bearer tokens. Applied to every log
// message and string attribute before it reaches a sink.
func Sanitize(s string) string {
	s = keyParamPattern.ReplaceAllString(s, "${1}"+masked)
	s = authHeaderPattern.ReplaceAllString(s, "${1}"+masked)
	s = bearerPattern.ReplaceAllString(s, "${1}"+masked)
	return s
}

// sanitizingHandler rewrites messages and string attributes through Sanitize.
type sanitizingHandler struct {
	handler slog.Handler
}

func (h *sanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *sanitizingHandler) Handle(ctx context.Context, record slog.Record) error {
	clean := slog.NewRecord(record.Time, record.Level, Sanitize(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(sanitizeAttr(a))
		return true
	})
	return h.handler.Handle(ctx, clean)
}

func (h *sanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cleaned := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		cleaned[i] = sanitizeAttr(a)
	}
	return &sanitizingHandler{handler: h.handler.WithAttrs(cleaned)}
}

func (h *sanitizingHandler) WithGroup(name string) slog.Handler {
	return &sanitizingHandler{handler: h.handler.WithGroup(name)}
}

func sanitizeAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, Sanitize(a.Value.String()))
	case slog.KindGroup:
		attrs := a.Value.Group()
		cleaned := make([]any, 0, len(attrs))
		for _, ga := range attrs {
			cleaned = append(cleaned, sanitizeAttr(ga))
		}
		return slog.Group(a.Key, cleaned...)
	default:
		return a
	}
}
