package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"report-embed/lifecycle"
	"report-embed/statusbus"
)

type embedHandler struct {
	sessions *sessionRegistry
	store    *statusbus.Publisher
}

type sessionResponse struct {
	OK        bool                `json:"ok"`
	SessionID string              `json:"session_id"`
	View      lifecycle.ViewState `json:"view"`
	Error     string              `json:"error,omitempty"`
}

func registerEmbedRoutes(r *mux.Router, sessions *sessionRegistry, store *statusbus.Publisher) {
	h := &embedHandler{sessions: sessions, store: store}
	r.HandleFunc("/sessions", h.handleCreate).Methods("POST")
	r.HandleFunc("/sessions/{id}", h.handleGet).Methods("GET")
	r.HandleFunc("/sessions/{id}", h.handleDelete).Methods("DELETE")
	r.HandleFunc("/sessions/{id}/embed", h.handleEmbed).Methods("POST")
	r.HandleFunc("/sessions/{id}/sdk", h.handleSDK).Methods("GET")
	r.HandleFunc("/sessions/{id}/stream", h.handleSSE).Methods("GET")
}

func (h *embedHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Create(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("create session failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeSession(w, http.StatusCreated, sessionResponse{OK: true, SessionID: s.ctrl.ID(), View: s.ctrl.View()})
}

func (h *embedHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s, err := h.sessions.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	view := s.ctrl.View()
	if h.store != nil {
		stored, ok, err := h.store.Snapshots.Get(r.Context(), id)
		if err != nil {
			log.Printf("embed: snapshot read for %s failed: %v", id, err)
		} else if ok {
			view = stored
		}
	}
	writeSession(w, http.StatusOK, sessionResponse{OK: true, SessionID: id, View: view})
}

func (h *embedHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(r.Context(), mux.Vars(r)["id"]); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEmbed is the user trigger. The fetch outlives a dropped request;
// the controller's own timeout bounds it.
func (h *embedHandler) handleEmbed(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s, err := h.sessions.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	view, err := s.ctrl.Embed(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, lifecycle.ErrAlreadyTriggered):
		writeSession(w, http.StatusConflict, sessionResponse{SessionID: id, View: view, Error: err.Error()})
	case errors.Is(err, lifecycle.ErrClosed):
		http.Error(w, err.Error(), http.StatusGone)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeSession(w, http.StatusOK, sessionResponse{OK: view.State != lifecycle.StateFetchFailed, SessionID: id, View: view})
	}
}

var sdkUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The host page is served from this origin; the bridge carries no credentials.
		return true
	},
}

func (h *embedHandler) handleSDK(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s, err := h.sessions.Get(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := sdkUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := s.bridge.attach(conn, s.ctrl.View()); err != nil {
		log.Printf("embed: sdk attach for %s failed: %v", id, err)
		return
	}
	defer s.bridge.detach(conn)

	s.bridge.readLoop(conn)
}

func (h *embedHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "status stream unavailable", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	id := mux.Vars(r)["id"]
	if _, err := h.sessions.Get(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	lastID := strings.TrimSpace(r.URL.Query().Get("after"))
	if lastID == "" {
		lastID = strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
			continue
		default:
		}

		updates, nextID, err := h.store.Bus.Tail(ctx, id, lastID)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			log.Printf("embed: status tail error for %s: %v", id, err)
			time.Sleep(300 * time.Millisecond)
			continue
		}
		if len(updates) == 0 {
			continue
		}

		lastID = nextID
		for _, u := range updates {
			payload, err := json.Marshal(u)
			if err != nil {
				log.Printf("embed: status encode error: %v", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\n", u.ID)
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func writeSession(w http.ResponseWriter, status int, resp sessionResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
