package httpapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Event is one resource mutation broadcast to connected clients.
type Event struct {
	Provider string    `json:"provider"`
	Path     string    `json:"path"`
	Action   string    `json:"action"` // create, update, delete
	At       time.Time `json:"at"`
}

// eventBuffer bounds each subscriber's queue; slow consumers drop events
// rather than blocking the publishing request.
const eventBuffer = 16

// Hub fans resource-change events out to websocket subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		subs:   make(map[chan Event]struct{}),
		logger: logger,
	}
}

// Publish delivers an event to every subscriber without blocking.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.logger.Debug("dropping event for slow subscriber",
				slog.String("path", e.Path),
			)
		}
	}
}

// subscribe registers a new subscriber channel and returns its remover.
func (h *Hub) subscribe() (chan Event, func()) {
	ch := make(chan Event, eventBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// EventsHandler upgrades the connection and streams change events until
// the client disconnects.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	// The client only listens; CloseRead surfaces disconnects via ctx.
	ctx := conn.CloseRead(r.Context())

	events, unsubscribe := s.hub.subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			if err := wsjson.Write(ctx, conn, e); err != nil {
				return
			}
		}
	}
}

// publishEvent is a handler-side convenience.
func (s *Server) publishEvent(providerID, path, action string) {
	s.hub.Publish(Event{
		Provider: providerID,
		Path:     path,
		Action:   action,
		At:       time.Now().UTC(),
	})
}
