// Package eventlog records the durable, append-only run journal. Every call
// is one independent open-append-close write of a single JSON line, so a
// crash never loses more than the line being written and concurrent writers
// interleave whole lines.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dpolat/pagelift/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Fields carries the event-specific payload of one log line.
type Fields map[string]interface{}

// Log appends structured events to a newline-delimited JSON file.
type Log struct {
	path string
}

// New creates an event log writing to the given file path.
func New(path string) *Log {
	return &Log{path: path}
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes one event line. A timestamp is attached unless the fields
// already carry one. The active trace id, if any, is recorded with the event.
func (l *Log) Append(ctx context.Context, event string, fields Fields) error {
	entry := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["event"] = event
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	if ctx != nil {
		span := trace.SpanFromContext(ctx)
		if span.SpanContext().IsValid() {
			entry["trace_id"] = span.SpanContext().TraceID().String()
			span.AddEvent(event, trace.WithAttributes(
				attribute.String("eventlog.event", event),
			))
		} else if id := tracing.GetTraceID(ctx); id != "" {
			entry["trace_id"] = id
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}
