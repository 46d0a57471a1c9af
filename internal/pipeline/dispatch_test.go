package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSynthesizer resolves each call when its release channel fires, so
// tests control completion order.
type stubSynthesizer struct {
	mu      sync.Mutex
	release map[string]chan struct{}
	fail    map[string]error
	calls   []string
}

func newStubSynthesizer() *stubSynthesizer {
	return &stubSynthesizer{
		release: make(map[string]chan struct{}),
		fail:    make(map[string]error),
	}
}

func (s *stubSynthesizer) gate(text string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.release[text]; !ok {
		s.release[text] = make(chan struct{})
	}
	return s.release[text]
}

func (s *stubSynthesizer) Synthesize(ctx context.Context, text string, _ SynthesisOptions) (*SynthesisResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()

	select {
	case <-s.gate(text):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	err := s.fail[text]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &SynthesisResult{Audio: []byte("audio:" + text), Format: "wav"}, nil
}

func newTestDispatcher(synth Synthesizer, maxInFlight int) *Dispatcher {
	router := NewTTSRouter(map[string]Synthesizer{"stub": synth}, "stub")
	return NewDispatcher(router, "stub", SynthesisOptions{Speed: 1, Pitch: 1}, 5*time.Second, maxInFlight)
}

func TestDispatchResolvesOutOfOrder(t *testing.T) {
	synth := newStubSynthesizer()
	d := newTestDispatcher(synth, 0)

	h0 := d.Dispatch(context.Background(), "first", 0)
	h1 := d.Dispatch(context.Background(), "second", 1)

	// Resolve the later segment first.
	close(synth.gate("second"))
	<-h1.Done()
	assert.Equal(t, SegmentReady, h1.Status())
	select {
	case <-h0.Done():
		t.Fatal("first segment must still be unresolved")
	default:
	}

	close(synth.gate("first"))
	<-h0.Done()

	outcomes := AwaitAll([]*SegmentHandle{h0, h1})
	require.Len(t, outcomes, 2)
	assert.Equal(t, 0, outcomes[0].Seq)
	assert.Equal(t, []byte("audio:first"), outcomes[0].Audio)
	assert.Equal(t, 1, outcomes[1].Seq)
	assert.Equal(t, []byte("audio:second"), outcomes[1].Audio)
}

func TestDispatchFailureIsolated(t *testing.T) {
	synth := newStubSynthesizer()
	synth.fail["bad"] = errors.New("backend exploded")
	d := newTestDispatcher(synth, 0)

	hBad := d.Dispatch(context.Background(), "bad", 0)
	hGood := d.Dispatch(context.Background(), "good", 1)
	close(synth.gate("bad"))
	close(synth.gate("good"))

	outcomes := AwaitAll([]*SegmentHandle{hBad, hGood})
	assert.True(t, outcomes[0].Failed())
	assert.ErrorContains(t, outcomes[0].Err, "backend exploded")
	assert.Equal(t, SegmentFailed, hBad.Status())

	assert.False(t, outcomes[1].Failed())
	assert.Equal(t, SegmentReady, hGood.Status())
}

func TestDispatchSurvivesCallerCancel(t *testing.T) {
	synth := newStubSynthesizer()
	d := newTestDispatcher(synth, 0)

	ctx, cancel := context.WithCancel(context.Background())
	h := d.Dispatch(ctx, "detached", 0)
	cancel()

	// The synthesis call keeps running under its own deadline.
	close(synth.gate("detached"))
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("segment never resolved after caller cancel")
	}
	assert.Equal(t, SegmentReady, h.Status())
}

func TestDispatchBoundedConcurrency(t *testing.T) {
	synth := newStubSynthesizer()
	d := newTestDispatcher(synth, 1)

	h0 := d.Dispatch(context.Background(), "s0", 0)
	h1 := d.Dispatch(context.Background(), "s1", 1)

	// Only one call may be in flight while the semaphore is held.
	require.Eventually(t, func() bool {
		synth.mu.Lock()
		defer synth.mu.Unlock()
		return len(synth.calls) == 1
	}, time.Second, 5*time.Millisecond)

	close(synth.gate("s0"))
	<-h0.Done()
	close(synth.gate("s1"))
	<-h1.Done()

	synth.mu.Lock()
	defer synth.mu.Unlock()
	assert.Equal(t, []string{"s0", "s1"}, synth.calls)
}

func TestAwaitAllPreservesInputOrder(t *testing.T) {
	synth := newStubSynthesizer()
	d := newTestDispatcher(synth, 0)

	var handles []*SegmentHandle
	for i := 0; i < 5; i++ {
		handles = append(handles, d.Dispatch(context.Background(), fmt.Sprintf("seg%d", i), i))
	}
	// Release in reverse.
	for i := 4; i >= 0; i-- {
		close(synth.gate(fmt.Sprintf("seg%d", i)))
	}

	outcomes := AwaitAll(handles)
	for i, o := range outcomes {
		assert.Equal(t, i, o.Seq)
		assert.Equal(t, fmt.Sprintf("seg%d", i), o.Text)
	}
}
