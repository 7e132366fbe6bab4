package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Diagnostic is one warning or error retained for the control API.
type Diagnostic struct {
	Sequence  uint64            `json:"seq"`
	Time      time.Time         `json:"ts"`
	Level     string            `json:"level"`
	Message   string            `json:"msg"`
	Component string            `json:"component,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	EventType string            `json:"event_type,omitempty"`
	ErrorHint string            `json:"error_hint,omitempty"`
	Impact    string            `json:"impact,omitempty"`
	Error     string            `json:"error,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

type diagnosticRing struct {
	mu       sync.Mutex
	capacity int
	entries  []Diagnostic
	next     uint64
}

// DiagnosticLog is a slog.Handler that keeps the most recent records at or
// above a minimum level in a bounded ring.
type DiagnosticLog struct {
	ring   *diagnosticRing
	min    slog.Level
	attrs  []slog.Attr
	groups []string
}

// NewDiagnosticLog returns a ring retaining up to capacity records at or above min.
func NewDiagnosticLog(capacity int, min slog.Level) *DiagnosticLog {
	if capacity <= 0 {
		capacity = 100
	}
	return &DiagnosticLog{
		ring: &diagnosticRing{capacity: capacity},
		min:  min,
	}
}

func (d *DiagnosticLog) Enabled(_ context.Context, level slog.Level) bool {
	return level >= d.min
}

func (d *DiagnosticLog) Handle(_ context.Context, record slog.Record) error {
	if record.Level < d.min {
		return nil
	}
	fields := make([]field, 0, record.NumAttrs()+len(d.attrs))
	flattenAttrs(&fields, d.groups, d.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&fields, d.groups, attr)
		return true
	})

	entry := Diagnostic{
		Time:    record.Time.UTC(),
		Level:   levelName(record.Level),
		Message: record.Message,
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	for _, f := range fields {
		value := attrString(f.value)
		switch f.key {
		case FieldComponent:
			entry.Component = value
		case FieldSessionID:
			entry.SessionID = value
		case FieldEventType:
			entry.EventType = value
		case FieldErrorHint:
			entry.ErrorHint = value
		case FieldImpact:
			entry.Impact = value
		case "error":
			entry.Error = value
		default:
			if entry.Fields == nil {
				entry.Fields = make(map[string]string)
			}
			entry.Fields[f.key] = value
		}
	}

	d.ring.add(entry)
	return nil
}

func (d *DiagnosticLog) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &DiagnosticLog{
		ring:   d.ring,
		min:    d.min,
		attrs:  append(append([]slog.Attr(nil), d.attrs...), attrs...),
		groups: d.groups,
	}
}

func (d *DiagnosticLog) WithGroup(name string) slog.Handler {
	return &DiagnosticLog{
		ring:   d.ring,
		min:    d.min,
		attrs:  d.attrs,
		groups: append(append([]string(nil), d.groups...), name),
	}
}

// Recent returns up to limit retained entries, oldest first. A limit <= 0
// returns everything retained.
func (d *DiagnosticLog) Recent(limit int) []Diagnostic {
	d.ring.mu.Lock()
	defer d.ring.mu.Unlock()
	entries := d.ring.entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]Diagnostic(nil), entries...)
}

func (r *diagnosticRing) add(entry Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	entry.Sequence = r.next
	r.entries = append(r.entries, entry)
	if over := len(r.entries) - r.capacity; over > 0 {
		r.entries = append(r.entries[:0:0], r.entries[over:]...)
	}
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
