// Package audit is the host's one process-wide, serialized sink for
// per-action outcomes (§4.3, §5): one JSON object per line on disk, plus an
// optional OpenTelemetry span per action and per step for external tracing.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// maxInputSummaryBytes bounds how much of a redacted input is copied into
// the audit log, so a large file-write payload doesn't bloat the log.
const maxInputSummaryBytes = 2048

// entry is one line of the audit log: timestamp, task id, action index,
// capability, redacted input summary, and outcome kind (§4.3).
type entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	TaskID     string          `json:"task_id"`
	Step       int             `json:"step"`
	ActionIdx  int             `json:"action_index"`
	Capability string          `json:"capability"`
	Input      json.RawMessage `json:"input,omitempty"`
	Success    bool            `json:"success"`
	ErrorKind  string          `json:"error_kind,omitempty"`
}

// Logger is the audit log writer for one host process. It serializes all
// writes: the audit log is the only process-wide state the orchestration
// loop touches outside a single task's Sandbox.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	tracer trace.Tracer
	tp     *sdktrace.TracerProvider
}

// Open opens (creating if needed) the JSONL audit log at path. If
// otelEndpoint is non-empty, action and step spans are additionally
// exported via OTLP/HTTP.
func Open(ctx context.Context, path, otelEndpoint string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	l := &Logger{file: f, tracer: otel.Tracer("wasi-warden")}

	if otelEndpoint != "" {
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(otelEndpoint))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("build otlp exporter: %w", err)
		}
		l.tp = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		l.tracer = l.tp.Tracer("wasi-warden")
	}

	return l, nil
}

// Close flushes the OTEL tracer provider (if any) and closes the log file.
func (l *Logger) Close(ctx context.Context) error {
	if l.tp != nil {
		if err := l.tp.Shutdown(ctx); err != nil {
			slog.Warn("audit: tracer provider shutdown failed", "error", err)
		}
	}
	return l.file.Close()
}

// RecordAction appends one JSONL entry and, if tracing is configured, emits
// a corresponding span. inputSummary must already be redacted by the caller
// (see RedactInput) before it reaches this call.
func (l *Logger) RecordAction(taskID string, step, actionIdx int, capabilityID string, success bool, errorKind string, inputSummary json.RawMessage) {
	e := entry{
		Timestamp:  time.Now().UTC(),
		TaskID:     taskID,
		Step:       step,
		ActionIdx:  actionIdx,
		Capability: capabilityID,
		Input:      truncateSummary(inputSummary),
		Success:    success,
		ErrorKind:  errorKind,
	}

	l.writeLine(e)
	l.emitActionSpan(e)
}

func truncateSummary(input json.RawMessage) json.RawMessage {
	if len(input) <= maxInputSummaryBytes {
		return input
	}
	return json.RawMessage(fmt.Sprintf("%q", string(input[:maxInputSummaryBytes])+"...(truncated)"))
}

// RedactInput returns a copy of input with capability-specific secret
// fields replaced, for safe storage in the audit log. type_text's text
// field is the one documented secret-bearing input (§4.3): a guest may
// type a password or token into a page, and that value must never reach
// disk in the clear.
func RedactInput(capabilityID string, input json.RawMessage) json.RawMessage {
	if len(input) == 0 || capabilityID != "browser.type_text" {
		return input
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(input, &fields); err != nil {
		return input
	}
	if _, ok := fields["text"]; !ok {
		return input
	}
	fields["text"] = json.RawMessage(`"[REDACTED]"`)

	redacted, err := json.Marshal(fields)
	if err != nil {
		return input
	}
	return redacted
}

func (l *Logger) writeLine(e entry) {
	b, err := json.Marshal(e)
	if err != nil {
		slog.Warn("audit: failed to marshal entry", "error", err)
		return
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(b); err != nil {
		slog.Warn("audit: failed to write entry", "error", err)
	}
}

func (l *Logger) emitActionSpan(e entry) {
	_, span := l.tracer.Start(context.Background(), "action."+e.Capability)
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", e.TaskID),
		attribute.Int("step", e.Step),
		attribute.Int("action.index", e.ActionIdx),
		attribute.Bool("success", e.Success),
	)
	if !e.Success {
		span.SetStatus(codes.Error, e.ErrorKind)
	}
}

// RecordStep emits a span covering one full orchestration loop iteration.
func (l *Logger) RecordStep(taskID string, step int, actionCount int) {
	_, span := l.tracer.Start(context.Background(), "step")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.Int("step", step),
		attribute.Int("actions", actionCount),
	)
}
