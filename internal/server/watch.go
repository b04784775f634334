package server

import (
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mediloop/mediloop/internal/conversation"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS middleware on the rest of
	// the API; the watch socket mirrors it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// watchHub fans consultation chunks out to clinicians observing a session
// over websockets.
type watchHub struct {
	mu       sync.Mutex
	watchers map[string]map[chan conversation.Chunk]struct{}
}

func newWatchHub() *watchHub {
	return &watchHub{watchers: make(map[string]map[chan conversation.Chunk]struct{})}
}

func (h *watchHub) subscribe(sessionID string) chan conversation.Chunk {
	ch := make(chan conversation.Chunk, 64)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watchers[sessionID] == nil {
		h.watchers[sessionID] = make(map[chan conversation.Chunk]struct{})
	}
	h.watchers[sessionID][ch] = struct{}{}
	return ch
}

func (h *watchHub) unsubscribe(sessionID string, ch chan conversation.Chunk) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.watchers[sessionID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(h.watchers, sessionID)
		}
	}
}

// broadcast sends a chunk to every watcher of the session. A watcher that
// cannot keep up loses chunks rather than stalling the patient's stream.
func (h *watchHub) broadcast(sessionID string, chunk conversation.Chunk) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.watchers[sessionID] {
		select {
		case ch <- chunk:
		default:
		}
	}
}

// handleWatch upgrades to a websocket and forwards the session's live chunks
// as JSON messages until the client disconnects.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.deps.Sessions.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := s.watchers.subscribe(id)
	defer s.watchers.unsubscribe(id, ch)

	// Reader goroutine notices the client closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case chunk := <-ch:
			if err := conn.WriteJSON(chunk); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
