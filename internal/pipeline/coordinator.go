package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voicebridge/gateway/internal/metrics"
	"github.com/voicebridge/gateway/internal/session"
	"github.com/voicebridge/gateway/internal/trace"
)

// TurnState is the coordinator's position in one generation-to-speech turn.
type TurnState int32

const (
	StateIdle TurnState = iota
	StateStreamOpened
	StateStreaming
	StateDraining
	StateCompleted
	StateErrored
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreamOpened:
		return "stream_opened"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// ErrClientGone means the client connection dropped mid-turn.
var ErrClientGone = errors.New("client connection lost")

// TurnConfig holds the collaborators for one client connection's turns.
type TurnConfig struct {
	Generator  Generator
	Model      string
	Dispatcher *Dispatcher
	GenTimeout time.Duration
	Send       EventFunc
	Tracer     *trace.Tracer
}

// Coordinator runs one turn at a time for a single client connection: it
// consumes the generation stream, relays raw chunks, segments sentences,
// fans synthesis out through the dispatcher, and delivers audio strictly in
// sentence order.
type Coordinator struct {
	cfg   TurnConfig
	state atomic.Int32
}

// NewCoordinator creates a coordinator for one client connection.
func NewCoordinator(cfg TurnConfig) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// State returns the current turn state.
func (c *Coordinator) State() TurnState {
	return TurnState(c.state.Load())
}

func (c *Coordinator) setState(s TurnState) {
	old := TurnState(c.state.Swap(int32(s)))
	if old != s {
		slog.Debug("turn state", "from", old.String(), "to", s.String())
	}
}

// RunTurn executes one user-utterance-to-spoken-response cycle. The user
// message is committed to the session up front; the assistant message is
// committed only when the turn completes. extraContext system messages
// (provider context, profile facts) are injected just before the user
// message in the generation request.
//
// ctx is the client connection's context: cancelling it stops the turn,
// abandons outstanding synthesis handles, and suppresses further sends.
func (c *Coordinator) RunTurn(ctx context.Context, sess *session.Session, userText string, extraContext []session.Message) error {
	messageID := uuid.NewString()
	turnStart := time.Now()
	turnID := c.cfg.Tracer.StartTurn()

	sess.AddUserMessage(userText)
	messages := buildRequest(sess.History(), extraContext)

	c.setState(StateStreamOpened)
	if err := c.cfg.Send(Event{Type: EventStreamStart, MessageID: messageID}); err != nil {
		return c.abort(turnID, turnStart, userText, ErrClientGone)
	}

	genCtx, cancelGen := context.WithTimeout(ctx, c.cfg.GenTimeout)
	defer cancelGen()
	deliveryCtx, cancelDelivery := context.WithCancel(ctx)
	defer cancelDelivery()

	handleCh := make(chan *SegmentHandle, 16)
	reportCh := make(chan deliveryReport, 1)
	go func() {
		reportCh <- c.deliver(deliveryCtx, messageID, handleCh)
	}()

	var sb SentenceBuffer
	var clientGone atomic.Bool
	seq := 0

	c.setState(StateStreaming)
	genStart := time.Now()
	result, genErr := c.cfg.Generator.Stream(genCtx, c.cfg.Model, messages, func(token string) {
		metrics.StreamChunks.Inc()
		if clientGone.Load() {
			return
		}
		if err := c.cfg.Send(Event{Type: EventTextChunk, MessageID: messageID, Text: token}); err != nil {
			clientGone.Store(true)
			cancelGen()
			return
		}
		for _, sentence := range sb.Feed(token) {
			if cleaned := CleanForSpeech(sentence); cleaned != "" {
				handleCh <- c.cfg.Dispatcher.Dispatch(ctx, cleaned, seq)
				seq++
			}
		}
	})

	c.cfg.Tracer.RecordSpan(turnID, "llm", genStart, userText, genText(result), genErr)

	if clientGone.Load() || ctx.Err() != nil {
		close(handleCh)
		cancelDelivery()
		<-reportCh
		return c.abort(turnID, turnStart, userText, ErrClientGone)
	}

	if genErr != nil {
		// Generation failure is fatal to the turn. In-flight synthesis tasks
		// finish on their own deadline but their results are discarded.
		close(handleCh)
		cancelDelivery()
		<-reportCh
		c.sendError("Could not get a response from the language model.")
		return c.abort(turnID, turnStart, userText, fmt.Errorf("generation: %w", genErr))
	}

	c.setState(StateDraining)
	if remainder := CleanForSpeech(sb.Flush()); remainder != "" {
		handleCh <- c.cfg.Dispatcher.Dispatch(ctx, remainder, seq)
		seq++
	}
	close(handleCh)

	report := <-reportCh
	if report.aborted {
		return c.abort(turnID, turnStart, userText, ErrClientGone)
	}
	if len(report.failures) > 0 {
		c.sendError("An error occurred during speech synthesis. Some audio may be missing.")
	}

	if err := c.cfg.Send(Event{Type: EventStreamEnd, MessageID: messageID, FullResponse: result.Text}); err != nil {
		return c.abort(turnID, turnStart, userText, ErrClientGone)
	}

	sess.AddAssistantMessage(result.Text)
	c.setState(StateCompleted)
	metrics.TurnsTotal.WithLabelValues("ok").Inc()
	c.cfg.Tracer.EndTurn(turnID, time.Since(turnStart), userText, result.Text, "ok")
	slog.Info("turn completed",
		"message_id", messageID,
		"segments", seq,
		"failed_segments", len(report.failures),
		"llm_ms", result.LatencyMs,
		"ttft_ms", result.TimeToFirstTokenMs,
		"total_ms", time.Since(turnStart).Milliseconds(),
	)
	return nil
}

func (c *Coordinator) abort(turnID string, start time.Time, userText string, err error) error {
	c.setState(StateErrored)
	metrics.TurnsTotal.WithLabelValues("error").Inc()
	c.cfg.Tracer.EndTurn(turnID, time.Since(start), userText, "", "error")
	return err
}

// sendError emits a single error notification if the client is still there.
func (c *Coordinator) sendError(msg string) {
	if err := c.cfg.Send(Event{Type: EventError, Message: msg}); err != nil {
		slog.Debug("error event not delivered", "error", err)
	}
}

type deliveryReport struct {
	aborted  bool
	failures []SegmentOutcome
}

// deliver sends resolved segments to the client strictly in sequence order.
// Completed-but-out-of-turn handles wait in a seq-indexed holding map until
// every predecessor is resolved; a failed segment is flagged in its slot and
// skipped. A slow segment therefore stalls delivery of its successors, but
// never their synthesis.
func (c *Coordinator) deliver(ctx context.Context, messageID string, ch <-chan *SegmentHandle) deliveryReport {
	pending := make(map[int]*SegmentHandle)
	next := 0
	open := true
	var failures []SegmentOutcome

	for {
		var nextDone <-chan struct{}
		if h, ok := pending[next]; ok {
			nextDone = h.Done()
		}
		if nextDone == nil && !open {
			return deliveryReport{failures: failures}
		}

		var recv <-chan *SegmentHandle
		if open {
			recv = ch
		}

		select {
		case h, ok := <-recv:
			if !ok {
				open = false
				continue
			}
			pending[h.Seq] = h

		case <-nextDone:
			h := pending[next]
			delete(pending, next)
			next++
			if !c.deliverOne(messageID, h.Outcome(), &failures) {
				return deliveryReport{aborted: true}
			}

		case <-ctx.Done():
			return deliveryReport{aborted: true}
		}
	}
}

// deliverOne sends one resolved segment (or its failure notice). Returns
// false once the client is unreachable.
func (c *Coordinator) deliverOne(messageID string, o SegmentOutcome, failures *[]SegmentOutcome) bool {
	partID := fmt.Sprintf("%s_%d", messageID, o.Seq)
	if o.Failed() {
		*failures = append(*failures, o)
		slog.Error("synthesis segment failed", "part_id", partID, "text", o.Text, "error", o.Err)
		err := c.cfg.Send(Event{
			Type:      EventTTSError,
			MessageID: messageID,
			PartID:    partID,
			Message:   "Speech synthesis failed for part of the response.",
		})
		return err == nil
	}

	err := c.cfg.Send(Event{
		Type:      EventTTSAudio,
		MessageID: messageID,
		PartID:    partID,
		Audio:     base64.StdEncoding.EncodeToString(o.Audio),
		Format:    o.Format,
	})
	return err == nil
}

// buildRequest inserts extra system context just before the trailing user
// message.
func buildRequest(history, extraContext []session.Message) []session.Message {
	if len(extraContext) == 0 {
		return history
	}
	out := make([]session.Message, 0, len(history)+len(extraContext))
	out = append(out, history[:len(history)-1]...)
	out = append(out, extraContext...)
	out = append(out, history[len(history)-1])
	return out
}

func genText(r *GenResult) string {
	if r == nil {
		return ""
	}
	return r.Text
}
