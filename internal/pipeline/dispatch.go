package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/voicebridge/gateway/internal/metrics"
)

// SegmentStatus tracks a segment through synthesis. Transitions only move
// forward: Pending → Synthesizing → Ready|Failed.
type SegmentStatus int32

const (
	SegmentPending SegmentStatus = iota
	SegmentSynthesizing
	SegmentReady
	SegmentFailed
)

// SegmentOutcome is the resolved result of one dispatched segment.
type SegmentOutcome struct {
	Seq    int
	Text   string
	Audio  []byte
	Format string
	Err    error
}

// Failed reports whether the segment resolved without usable audio.
func (o SegmentOutcome) Failed() bool { return o.Err != nil }

// SegmentHandle is the caller's view of an in-flight synthesis task.
type SegmentHandle struct {
	Seq    int
	Text   string
	status atomic.Int32

	done    chan struct{}
	outcome SegmentOutcome
}

// Status returns the segment's current state.
func (h *SegmentHandle) Status() SegmentStatus {
	return SegmentStatus(h.status.Load())
}

// Done is closed once the segment has resolved to Ready or Failed.
func (h *SegmentHandle) Done() <-chan struct{} { return h.done }

// Outcome returns the resolved result. Only valid after Done is closed.
func (h *SegmentHandle) Outcome() SegmentOutcome { return h.outcome }

func (h *SegmentHandle) resolve(o SegmentOutcome) {
	if o.Err != nil {
		h.status.Store(int32(SegmentFailed))
		metrics.SegmentsFailed.Inc()
	} else {
		h.status.Store(int32(SegmentReady))
	}
	h.outcome = o
	close(h.done)
}

// Dispatcher fans sentence segments out to the synthesis backend, one
// goroutine per segment, optionally bounded by a semaphore. A segment's
// failure is captured in its outcome and never propagated as a panic or
// returned error, so one bad segment cannot abort the turn.
type Dispatcher struct {
	tts     *TTSRouter
	engine  string
	opts    SynthesisOptions
	timeout time.Duration
	sem     *semaphore.Weighted
}

// NewDispatcher creates a dispatcher. maxInFlight of 0 leaves concurrency
// unbounded (one task per sentence). timeout bounds each synthesis call
// independently of the overall stream deadline.
func NewDispatcher(tts *TTSRouter, engine string, opts SynthesisOptions, timeout time.Duration, maxInFlight int) *Dispatcher {
	d := &Dispatcher{tts: tts, engine: engine, opts: opts, timeout: timeout}
	if maxInFlight > 0 {
		d.sem = semaphore.NewWeighted(int64(maxInFlight))
	}
	return d
}

// Dispatch launches synthesis of one segment and returns immediately.
// The synthesis call is detached from ctx's cancellation: a turn that is
// torn down abandons its handles, but in-flight tasks run to completion
// under their own deadline.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, seq int) *SegmentHandle {
	h := &SegmentHandle{Seq: seq, Text: text, done: make(chan struct{})}
	metrics.SegmentsDispatched.Inc()

	go func() {
		if d.sem != nil {
			if err := d.sem.Acquire(ctx, 1); err != nil {
				h.resolve(SegmentOutcome{Seq: seq, Text: text, Err: err})
				return
			}
			defer d.sem.Release(1)
		}

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		h.status.Store(int32(SegmentSynthesizing))
		result, err := d.tts.Synthesize(callCtx, text, d.engine, d.opts)
		if err != nil {
			h.resolve(SegmentOutcome{Seq: seq, Text: text, Err: err})
			return
		}
		h.resolve(SegmentOutcome{Seq: seq, Text: text, Audio: result.Audio, Format: result.Format})
	}()

	return h
}

// AwaitAll blocks until every handle has resolved and returns the outcomes
// in input order, regardless of completion order.
func AwaitAll(handles []*SegmentHandle) []SegmentOutcome {
	outcomes := make([]SegmentOutcome, 0, len(handles))
	for _, h := range handles {
		<-h.done
		outcomes = append(outcomes, h.outcome)
	}
	return outcomes
}
