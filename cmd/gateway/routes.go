package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voicebridge/gateway/internal/trace"
	"github.com/voicebridge/gateway/internal/ws"
)

func routes(handler *ws.Handler, traces *trace.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if traces != nil {
		mux.HandleFunc("GET /api/traces/turns", listTurns(traces))
		mux.HandleFunc("GET /api/traces/turns/{id}", getTurn(traces))
	}
	return mux
}

func listTurns(traces *trace.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		offset := queryInt(r, "offset", 0)
		turns, total, err := traces.ListTurns(limit, offset)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"turns": turns, "total": total})
	}
}

func getTurn(traces *trace.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		turn, spans, err := traces.GetTurn(r.PathValue("id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "turn not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"turn": turn, "spans": spans})
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
