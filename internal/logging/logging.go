// Package logging builds the process-wide slog.Logger: level and handler
// format from configuration, plus a redacting wrapper that scrubs
// credentials (API keys, tokens, webhook ids) from every record before
// it reaches the underlying handler.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"

	"github.com/mattn/go-isatty"

	"github.com/drivewatch/drivewatch/internal/config"
)

// New builds a logger from the logging config. Format "auto" picks the
// text handler when stderr is a terminal and JSON otherwise.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newWithWriter(cfg, os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))
}

func newWithWriter(cfg config.LoggingConfig, w io.Writer, tty bool) (*slog.Logger, error) {
	level := slog.LevelInfo

	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler

	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		if tty {
			handler = slog.NewTextHandler(w, opts)
		} else {
			handler = slog.NewJSONHandler(w, opts)
		}
	}

	redactor, err := NewRedactor(cfg.RedactPatterns, cfg.RedactSubstitute)
	if err != nil {
		return nil, err
	}

	return slog.New(&redactingHandler{inner: handler, redactor: redactor}), nil
}

// redactingHandler rewrites the message and every string attr value
// through the redactor before delegating to the wrapped handler.
type redactingHandler struct {
	inner    slog.Handler
	redactor *Redactor
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	clean := slog.NewRecord(rec.Time, rec.Level, h.redactor.Redact(rec.Message), rec.PC)

	rec.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.redactAttr(a))
		return true
	})

	return h.inner.Handle(ctx, clean)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.redactAttr(a)
	}

	return &redactingHandler{inner: h.inner.WithAttrs(clean), redactor: h.redactor}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name), redactor: h.redactor}
}

func (h *redactingHandler) redactAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.redactor.Redact(a.Value.String()))
	case slog.KindGroup:
		members := a.Value.Group()
		clean := make([]any, 0, len(members))

		for _, m := range members {
			clean = append(clean, h.redactAttr(m))
		}

		return slog.Group(a.Key, clean...)
	default:
		return a
	}
}

// Redactor replaces the capture groups of each pattern (or the whole
// match when a pattern has no groups) with the substitute string.
type Redactor struct {
	patterns   []*regexp.Regexp
	substitute string
}

// NewRedactor compiles the patterns. An empty pattern list produces a
// pass-through redactor.
func NewRedactor(patterns []string, substitute string) (*Redactor, error) {
	if substitute == "" {
		substitute = "<REDACTED>"
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))

	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}

		compiled = append(compiled, re)
	}

	return &Redactor{patterns: compiled, substitute: substitute}, nil
}

// Redact applies every pattern to the text.
func (r *Redactor) Redact(text string) string {
	for _, re := range r.patterns {
		text = r.redactOne(re, text)
	}

	return text
}

// redactOne rebuilds the string with each capture group span replaced.
// Groups are processed right to left so earlier indices stay valid.
func (r *Redactor) redactOne(re *regexp.Regexp, text string) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return text
	}

	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]

		// m holds pairs: whole match, then each group. With no groups,
		// redact the whole match.
		spans := [][2]int{}

		if len(m) > 2 {
			for g := len(m) - 2; g >= 2; g -= 2 {
				if m[g] >= 0 {
					spans = append(spans, [2]int{m[g], m[g+1]})
				}
			}
		} else {
			spans = append(spans, [2]int{m[0], m[1]})
		}

		for _, s := range spans {
			text = text[:s[0]] + r.substitute + text[s[1]:]
		}
	}

	return text
}
