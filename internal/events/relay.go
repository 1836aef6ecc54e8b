package events

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/shehryarbajwa/detox/pkg/models"
)

// DefaultSubject prefixes every relayed event subject
const DefaultSubject = "detox.events"

// envelope is the NATS message body for one relayed event
type envelope struct {
	Subscriber string           `json:"subscriber"`
	Event      models.EventName `json:"event"`
	Data       json.RawMessage  `json:"data"`
}

// Relay fans events out over NATS so a run can report to a subscriber whose
// websocket is held by another instance.
type Relay struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	hub     *Hub
	subject string
}

// NewRelay connects to NATS and starts forwarding relayed events to hub.
func NewRelay(url, subject string, hub *Hub) (*Relay, error) {
	if subject == "" {
		subject = DefaultSubject
	}

	nc, err := nats.Connect(url,
		nats.Name("detox"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	r := &Relay{
		nc:      nc,
		hub:     hub,
		subject: subject,
	}

	sub, err := nc.Subscribe(subject+".*", r.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s.*: %w", subject, err)
	}
	r.sub = sub

	return r, nil
}

// Emit delivers locally when the subscriber is connected here, and publishes
// to NATS otherwise. A failed local write is not retried through NATS, since
// the retry could arrive after later events.
func (r *Relay) Emit(subscriberID string, event models.Event) {
	if r.hub.Connected(subscriberID) {
		r.hub.deliver(subscriberID, event)
		return
	}

	if !validSubjectToken(subscriberID) {
		log.Printf("⚠️ Dropping %s: subscriber id %q cannot be used as a subject token", event.Name, subscriberID)
		return
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		log.Printf("⚠️ Failed to encode %s for relay: %v", event.Name, err)
		return
	}

	body, err := json.Marshal(envelope{Subscriber: subscriberID, Event: event.Name, Data: data})
	if err != nil {
		log.Printf("⚠️ Failed to encode relay envelope: %v", err)
		return
	}

	if err := r.nc.Publish(r.subject+"."+subscriberID, body); err != nil {
		log.Printf("⚠️ Failed to relay %s to subscriber %s: %v", event.Name, shortID(subscriberID), err)
	}
}

// validSubjectToken reports whether id fits in one NATS subject token, so
// that <subject>.<id> is matched by the <subject>.* subscription.
func validSubjectToken(id string) bool {
	if id == "" {
		return false
	}
	return !strings.ContainsAny(id, ".*> \t\r\n")
}

func (r *Relay) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		log.Printf("⚠️ Dropping malformed relay message on %s: %v", msg.Subject, err)
		return
	}

	r.hub.deliver(env.Subscriber, models.Event{Name: env.Event, Data: env.Data})
}

// Close drains the subscription and the connection.
func (r *Relay) Close() error {
	return r.nc.Drain()
}
