// Package hostlink connects the foreground engine to an out-of-process
// background host over WebSocket.
package hostlink

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/rcliao/learnsync/internal/logging"
	"github.com/rcliao/learnsync/internal/offline"
)

const (
	sendBuffer   = 8
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// ErrNoWorker is returned by PostMessage when no worker is connected.
var ErrNoWorker = errors.New("no background worker connected")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatsFunc reports engine state for GET /stats.
type StatsFunc func(ctx context.Context) (any, error)

type worker struct {
	conn *websocket.Conn
	send chan []byte
	addr string
}

// Hub accepts worker registrations and broadcasts sync signals to them. It
// implements offline.Host.
type Hub struct {
	stats  StatsFunc
	logger *slog.Logger
	router chi.Router

	mu      sync.RWMutex
	workers map[*worker]struct{}
	wg      sync.WaitGroup
}

// NewHub builds a hub and its routes. stats may be nil.
func NewHub(stats StatsFunc, logger *slog.Logger) *Hub {
	h := &Hub{
		stats:   stats,
		logger:  logging.OrDefault(logger),
		workers: make(map[*worker]struct{}),
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/stats", h.handleStats)
	r.Get("/host", h.handleHost)
	r.Post("/signal", h.handleSignal)
	h.router = r
	return h
}

// Handler returns the hub's HTTP routes.
func (h *Hub) Handler() http.Handler {
	return h.router
}

// Workers returns the number of connected workers.
func (h *Hub) Workers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.workers)
}

// Controlling reports whether at least one worker is connected.
func (h *Hub) Controlling() bool {
	return h.Workers() > 0
}

// PostMessage queues m for every connected worker without waiting for
// delivery. Workers whose buffers are full miss the message.
func (h *Hub) PostMessage(_ context.Context, m offline.Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.workers) == 0 {
		return ErrNoWorker
	}
	queued := 0
	for wk := range h.workers {
		select {
		case wk.send <- b:
			queued++
		default:
			h.logger.Warn("worker send buffer full, message dropped", "worker", wk.addr, "type", m.Type)
		}
	}
	if queued == 0 {
		return errors.New("every worker send buffer is full")
	}
	return nil
}

// Close disconnects every worker and waits for their pumps to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	for wk := range h.workers {
		wk.conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) handleStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"workers": h.Workers()}
	if h.stats != nil {
		st, err := h.stats(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		body["engine"] = st
	}
	writeJSON(w, http.StatusOK, body)
}

// handleSignal lets another process ask the hub to broadcast a sync signal.
func (h *Hub) handleSignal(w http.ResponseWriter, r *http.Request) {
	var m offline.Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid message: " + err.Error()})
		return
	}
	if m.Type != offline.TriggerSync && m.Type != offline.ManualSync {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown message type " + string(m.Type)})
		return
	}
	if m.At.IsZero() {
		m.At = time.Now().UTC()
	}
	if err := h.PostMessage(r.Context(), m); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "workers": h.Workers()})
}

func (h *Hub) handleHost(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("worker upgrade failed", "err", err)
		return
	}

	wk := &worker{conn: conn, send: make(chan []byte, sendBuffer), addr: r.RemoteAddr}
	h.mu.Lock()
	h.workers[wk] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()
	h.logger.Info("background worker connected", "worker", wk.addr)

	done := make(chan struct{})
	go h.writePump(wk, done)
	h.readPump(wk)
	close(done)

	h.mu.Lock()
	delete(h.workers, wk)
	h.mu.Unlock()
	conn.Close()
	h.wg.Done()
	h.logger.Info("background worker disconnected", "worker", wk.addr)
}

// readPump only watches for the connection closing; workers do not send
// anything the hub acts on.
func (h *Hub) readPump(wk *worker) {
	for {
		if _, _, err := wk.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(wk *worker, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-wk.send:
			wk.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wk.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				wk.conn.Close()
				return
			}
		case <-ticker.C:
			wk.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := wk.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				wk.conn.Close()
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

var _ offline.Host = (*Hub)(nil)
