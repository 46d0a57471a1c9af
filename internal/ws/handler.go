// Package ws exposes the realtime voice endpoint: one websocket per client,
// JSON messages in, pipeline events out.
package ws

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/voicebridge/gateway/internal/metrics"
	"github.com/voicebridge/gateway/internal/pipeline"
	"github.com/voicebridge/gateway/internal/profile"
	"github.com/voicebridge/gateway/internal/providers"
	"github.com/voicebridge/gateway/internal/session"
	"github.com/voicebridge/gateway/internal/trace"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// clientMessage is the envelope for everything a client sends.
type clientMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Audio     string `json:"audio,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

// Handler upgrades HTTP requests and runs the per-connection message loop.
type Handler struct {
	Registry    *session.Registry
	Generator   pipeline.Generator
	Model       string
	Dispatcher  *pipeline.Dispatcher
	Transcriber pipeline.Transcriber
	Providers   *providers.Registry
	Profiles    *profile.Store
	Tracer      *trace.Tracer
	GenTimeout  time.Duration

	admission *semaphore.Weighted
}

// NewHandler wires the pipeline behind a websocket endpoint. maxConns bounds
// concurrent connections; past it new upgrades are refused with 503.
func NewHandler(h Handler, maxConns int64) *Handler {
	h.admission = semaphore.NewWeighted(maxConns)
	return &h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.admission.TryAcquire(1) {
		metrics.Errors.WithLabelValues("ws", "capacity").Inc()
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}
	defer h.admission.Release(1)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	metrics.ConnectionsActive.Inc()
	metrics.ConnectionsTotal.Inc()
	defer metrics.ConnectionsActive.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sender := newEventSender(conn)
	log := slog.With("remote", r.RemoteAddr)
	log.Info("client connected")

	sender.send(pipeline.Event{Type: pipeline.EventConnectionAck, Message: "connected"})

	coord := pipeline.NewCoordinator(pipeline.TurnConfig{
		Generator:  h.Generator,
		Model:      h.Model,
		Dispatcher: h.Dispatcher,
		GenTimeout: h.GenTimeout,
		Send:       sender.send,
		Tracer:     h.Tracer,
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("client read failed", "error", err)
			} else {
				log.Info("client disconnected")
			}
			return
		}

		switch msg.Type {
		case "ping":
			sender.send(pipeline.Event{Type: pipeline.EventPong})
		case "text":
			h.handleText(ctx, coord, sender, msg, log)
		case "audio":
			h.handleAudio(ctx, coord, sender, msg, log)
		default:
			sender.send(pipeline.Event{Type: pipeline.EventError, Message: "unknown message type: " + msg.Type})
		}
	}
}

func (h *Handler) handleText(ctx context.Context, coord *pipeline.Coordinator, sender *eventSender, msg clientMessage, log *slog.Logger) {
	if msg.Text == "" {
		sender.send(pipeline.Event{Type: pipeline.EventError, Message: "empty text"})
		return
	}
	sess := h.Registry.GetOrCreate(sessionID(msg), msg.Mode)
	if msg.Mode != "" {
		sess.ChangeMode(msg.Mode)
	}
	h.runTurn(ctx, coord, sess, msg, log)
}

func (h *Handler) handleAudio(ctx context.Context, coord *pipeline.Coordinator, sender *eventSender, msg clientMessage, log *slog.Logger) {
	audio, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		sender.send(pipeline.Event{Type: pipeline.EventTranscriptionError, Text: "invalid audio encoding"})
		return
	}

	start := time.Now()
	text, err := h.Transcriber.Transcribe(ctx, audio)
	metrics.StageDuration.WithLabelValues("stt").Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn("transcription failed", "error", err)
		sender.send(pipeline.Event{Type: pipeline.EventTranscriptionError, Text: "Could not transcribe audio. Please try again."})
		return
	}
	sender.send(pipeline.Event{Type: pipeline.EventTranscription, Text: text})

	sess := h.Registry.GetOrCreate(sessionID(msg), msg.Mode)
	if msg.Mode != "" {
		sess.ChangeMode(msg.Mode)
	}
	h.runTurn(ctx, coord, sess, msg.withText(text), log)
}

func (h *Handler) runTurn(ctx context.Context, coord *pipeline.Coordinator, sess *session.Session, msg clientMessage, log *slog.Logger) {
	extra := h.turnContext(ctx, msg)
	if err := coord.RunTurn(ctx, sess, msg.Text, extra); err != nil {
		log.Warn("turn failed", "session_id", sess.ID(), "error", err)
		return
	}
	if h.Profiles != nil && msg.UserID != "" {
		h.Profiles.CommitAsync(msg.UserID, msg.Text)
	}
}

// turnContext gathers provider lookups and profile memory for injection
// ahead of the user's message.
func (h *Handler) turnContext(ctx context.Context, msg clientMessage) []session.Message {
	var extra []session.Message
	if h.Providers != nil {
		if c := h.Providers.Context(ctx, msg.Text); c != "" {
			extra = append(extra, session.Message{Role: session.RoleSystem, Content: c})
		}
	}
	if h.Profiles != nil && msg.UserID != "" {
		p, err := h.Profiles.Load(msg.UserID)
		if err != nil {
			slog.Warn("profile load failed", "user_id", msg.UserID, "error", err)
		} else if uc := p.UserContext(); uc != "" {
			extra = append(extra, session.Message{Role: session.RoleSystem, Content: uc})
		}
	}
	return extra
}

func (m clientMessage) withText(text string) clientMessage {
	m.Text = text
	return m
}

func sessionID(msg clientMessage) string {
	if msg.SessionID != "" {
		return msg.SessionID
	}
	return "default"
}

// eventSender serializes writes on one connection and stamps event
// timestamps so they never decrease. After the first write failure it goes
// dead and swallows everything, letting the read loop notice the close.
type eventSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
	last float64
	dead bool
}

func newEventSender(conn *websocket.Conn) *eventSender {
	return &eventSender{conn: conn}
}

func (s *eventSender) send(ev pipeline.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return pipeline.ErrClientGone
	}
	ts := float64(time.Now().UnixNano()) / 1e9
	if ts < s.last {
		ts = s.last
	}
	s.last = ts
	ev.Timestamp = ts
	if err := s.conn.WriteJSON(ev); err != nil {
		s.dead = true
		return err
	}
	return nil
}
