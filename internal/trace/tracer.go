package trace

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// maxIOLen caps stored input/output snippets.
const maxIOLen = 500

type traceMsg struct {
	kind string // "turn_create", "turn_update", "span"

	turnID     string
	durationMs float64
	userText   string
	response   string
	status     string

	span Span
}

// Tracer writes trace data asynchronously through a buffered channel so
// recording never adds latency to a turn. All methods are nil-safe.
type Tracer struct {
	store *Store
	ch    chan traceMsg
	done  chan struct{}
}

// NewTracer starts a tracer over store. Close must be called to drain it.
func NewTracer(store *Store) *Tracer {
	t := &Tracer{
		store: store,
		ch:    make(chan traceMsg, 64),
		done:  make(chan struct{}),
	}
	go t.drain()
	return t
}

func (t *Tracer) drain() {
	defer close(t.done)
	for msg := range t.ch {
		t.handle(msg)
	}
}

func (t *Tracer) handle(m traceMsg) {
	var err error
	switch m.kind {
	case "turn_create":
		err = t.store.CreateTurn(m.turnID)
	case "turn_update":
		err = t.store.UpdateTurn(m.turnID, m.durationMs, m.userText, m.response, m.status)
	case "span":
		err = t.store.CreateSpan(m.span)
	}
	if err != nil {
		slog.Warn("trace write failed", "kind", m.kind, "error", err)
	}
}

// enqueue drops the message when the buffer is full rather than blocking.
func (t *Tracer) enqueue(m traceMsg) {
	select {
	case t.ch <- m:
	default:
		slog.Debug("trace buffer full, dropping", "kind", m.kind)
	}
}

// StartTurn records a new turn and returns its id. Returns "" on nil.
func (t *Tracer) StartTurn() string {
	if t == nil {
		return ""
	}
	id := uuid.NewString()
	t.enqueue(traceMsg{kind: "turn_create", turnID: id})
	return id
}

// EndTurn finalizes a turn record.
func (t *Tracer) EndTurn(turnID string, dur time.Duration, userText, response, status string) {
	if t == nil || turnID == "" {
		return
	}
	t.enqueue(traceMsg{
		kind:       "turn_update",
		turnID:     turnID,
		durationMs: float64(dur.Milliseconds()),
		userText:   truncate(userText),
		response:   truncate(response),
		status:     status,
	})
}

// RecordSpan records one timed stage of a turn.
func (t *Tracer) RecordSpan(turnID, stage string, start time.Time, input, output string, err error) {
	if t == nil || turnID == "" {
		return
	}
	status, errMsg := "ok", ""
	if err != nil {
		status, errMsg = "error", err.Error()
	}
	t.enqueue(traceMsg{kind: "span", span: Span{
		ID:         uuid.NewString(),
		TurnID:     turnID,
		Stage:      stage,
		StartedAt:  start,
		DurationMs: float64(time.Since(start).Milliseconds()),
		Input:      truncate(input),
		Output:     truncate(output),
		Status:     status,
		Error:      errMsg,
	}})
}

// Close drains buffered writes and stops the tracer.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	close(t.ch)
	<-t.done
}

func truncate(s string) string {
	if len(s) > maxIOLen {
		return s[:maxIOLen]
	}
	return s
}
