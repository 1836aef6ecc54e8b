// Package events delivers run status events to websocket subscribers.
package events

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shehryarbajwa/detox/pkg/models"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Reporter pushes events to the subscriber with the given id. Delivery is
// best effort and never reports failure to the caller.
type Reporter interface {
	Emit(subscriberID string, event models.Event)
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *subscriber) send(event models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(event)
}

// Hub holds the websocket connections of every subscriber on this instance
type Hub struct {
	subscribers sync.Map // map[subscriberID]*subscriber
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{}
}

// HandleSubscribe upgrades the request to a websocket, assigns the client a
// subscriber id and keeps the connection registered until it closes.
func (h *Hub) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	sub := &subscriber{
		id:   uuid.New().String(),
		conn: conn,
	}

	h.subscribers.Store(sub.id, sub)
	defer h.subscribers.Delete(sub.id)

	if err := sub.send(models.Event{Name: models.EventConnected, Data: models.ConnectedPayload{ID: sub.id}}); err != nil {
		log.Printf("❌ Failed to greet subscriber %s: %v", sub.id[:8], err)
		return
	}

	log.Printf("✅ Subscriber %s connected", sub.id[:8])

	// Subscribers only listen; reading drives close and ping handling
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error (subscriber %s): %v", sub.id[:8], err)
			}
			break
		}
	}

	log.Printf("Subscriber %s disconnected", sub.id[:8])
}

// Emit writes the event to the subscriber's connection, if it is connected here.
func (h *Hub) Emit(subscriberID string, event models.Event) {
	h.deliver(subscriberID, event)
}

// deliver reports whether the event was written.
func (h *Hub) deliver(subscriberID string, event models.Event) bool {
	value, ok := h.subscribers.Load(subscriberID)
	if !ok {
		return false
	}

	sub := value.(*subscriber)
	if err := sub.send(event); err != nil {
		log.Printf("⚠️ Failed to deliver %s to subscriber %s: %v", event.Name, shortID(subscriberID), err)
		return false
	}
	return true
}

// Connected reports whether a subscriber is attached to this instance.
func (h *Hub) Connected(subscriberID string) bool {
	_, ok := h.subscribers.Load(subscriberID)
	return ok
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	n := 0
	h.subscribers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
