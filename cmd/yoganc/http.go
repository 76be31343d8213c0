package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/yoganc/internal/domain/session"
	"github.com/edumarques81/yoganc/internal/version"
)

const stateTimeout = 3 * time.Second

// backend is what the HTTP endpoints read from the running session.
type backend interface {
	Connected() bool
	Snapshot(ctx context.Context) (session.State, error)
}

func newMux(socket http.Handler, b backend) http.Handler {
	mux := http.NewServeMux()

	// Socket.io endpoint
	mux.Handle("/socket.io/", socket)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !b.Connected() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","service":"disconnected"}`))
			return
		}
		w.Write([]byte(`{"status":"ok","service":"connected"}`))
	})

	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, version.GetInfo())
	})

	mux.HandleFunc("/api/v1/state", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), stateTimeout)
		defer cancel()

		st, err := b.Snapshot(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("State request failed")
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, st)
	})

	return withCORS(mux)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
