package collaboration

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Relay bridges room broadcasts across server instances through Redis
// pub/sub: one channel per document, subscribed while the local room is
// non-empty. Frames carry the publishing instance's id so an instance ignores
// its own traffic. With no Redis configured the registry simply runs without
// a relay and behavior is unchanged.
type Relay struct {
	rdb     *redis.Client
	origin  string
	deliver func(docID string, message []byte)

	mu   sync.Mutex
	subs map[string]*redis.PubSub
}

type relayFrame struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// NewRelay creates a relay on an established Redis client.
func NewRelay(rdb *redis.Client) *Relay {
	return &Relay{
		rdb:    rdb,
		origin: uuid.NewString(),
		subs:   make(map[string]*redis.PubSub),
	}
}

func relayChannel(docID string) string {
	return "docsync:room:" + docID
}

// Publish sends a locally originated room frame to the document's channel.
func (r *Relay) Publish(docID string, message []byte) {
	frame, err := json.Marshal(relayFrame{Origin: r.origin, Payload: message})
	if err != nil {
		log.Printf("relay: failed to encode frame for %s: %v", docID, err)
		return
	}
	if err := r.rdb.Publish(context.Background(), relayChannel(docID), frame).Err(); err != nil {
		log.Printf("relay: failed to publish to %s: %v", docID, err)
	}
}

// Subscribe starts forwarding remote frames for a document into the local
// room. Idempotent per document.
func (r *Relay) Subscribe(docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[docID]; ok {
		return
	}
	ps := r.rdb.Subscribe(context.Background(), relayChannel(docID))
	r.subs[docID] = ps

	go func() {
		for msg := range ps.Channel() {
			var frame relayFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				log.Printf("relay: dropping malformed frame on %s: %v", msg.Channel, err)
				continue
			}
			if frame.Origin == r.origin {
				continue
			}
			r.deliver(docID, frame.Payload)
		}
	}()
}

// Unsubscribe stops forwarding for a document once its local room empties.
func (r *Relay) Unsubscribe(docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ps, ok := r.subs[docID]; ok {
		delete(r.subs, docID)
		ps.Close()
	}
}

// Close tears down every subscription.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for docID, ps := range r.subs {
		delete(r.subs, docID)
		ps.Close()
	}
}
