package server

import (
	"encoding/json"
	"sync"
)

// Event is the payload streamed to SSE subscribers.
type Event struct {
	Type       string  `json:"type"`
	StopID     string  `json:"stopId,omitempty"`
	ObjectID   string  `json:"objectId,omitempty"`
	DistanceM  float64 `json:"distanceM,omitempty"`
	Score      int     `json:"score,omitempty"`
	QueueDepth int     `json:"queueDepth,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Event types published by the routes and the tracker wiring.
const (
	EventZoneEntered  = "zone_entered"
	EventZoneExited   = "zone_exited"
	EventReconciled   = "reconciled"
	EventActionQueued = "action_queued"
	EventGeoError     = "geo_error"
)

// Broker is an in-process pub/sub for the client's SSE stream. One quest
// session runs per process, so subscriptions are not keyed.
type Broker struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan []byte]struct{})}
}

// Subscribe returns a channel that receives JSON-encoded events.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Publish sends an event to all subscribers.
func (b *Broker) Publish(event Event) {
	data, _ := json.Marshal(event)
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- data:
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
}
