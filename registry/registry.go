// Package registry implements the notification relay that consumes lifecycle
// events from every escrow instance and re-emits them under a single
// indexable stream. It holds no state the escrow engine depends on; losing it
// loses nothing but notifications.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"escrowd/core/events"
	"escrowd/core/types"
	"escrowd/observability"
)

// Entry is one relayed lifecycle event, tagged with the emitting escrow's
// identity and a monotonically increasing sequence number.
type Entry struct {
	Seq        uint64            `json:"seq"`
	DeliveryID string            `json:"deliveryId"`
	EscrowID   string            `json:"escrowId"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	ReceivedAt time.Time         `json:"receivedAt"`
}

// Subscriber receives relayed entries synchronously in emission order.
type Subscriber func(Entry)

// Registry indexes relayed events in a bounded in-memory log and fans them
// out to subscribers. It satisfies events.Emitter so the node can be pointed
// straight at it.
type Registry struct {
	mu       sync.RWMutex
	log      []Entry
	seq      uint64
	capacity int
	subs     []Subscriber
	nowFn    func() time.Time
}

type eventCarrier interface {
	Event() *types.Event
}

// New creates a registry retaining at most capacity entries; zero or negative
// disables retention trimming.
func New(capacity int) *Registry {
	return &Registry{capacity: capacity, nowFn: time.Now}
}

// SetNowFunc overrides the receive-time source, primarily used in tests.
func (r *Registry) SetNowFunc(now func() time.Time) {
	if now == nil {
		r.nowFn = time.Now
		return
	}
	r.nowFn = now
}

// Subscribe registers a subscriber for every subsequently relayed entry.
func (r *Registry) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// Emit implements the events.Emitter interface. Events that do not carry a
// structured payload are dropped.
func (r *Registry) Emit(evt events.Event) {
	carrier, ok := evt.(eventCarrier)
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	attrs := make(map[string]string, len(payload.Attributes))
	for k, v := range payload.Attributes {
		attrs[k] = v
	}
	r.mu.Lock()
	r.seq++
	entry := Entry{
		Seq:        r.seq,
		DeliveryID: uuid.NewString(),
		EscrowID:   attrs["id"],
		Type:       payload.Type,
		Attributes: attrs,
		ReceivedAt: r.nowFn(),
	}
	r.log = append(r.log, entry)
	if r.capacity > 0 && len(r.log) > r.capacity {
		r.log = append(r.log[:0:0], r.log[len(r.log)-r.capacity:]...)
	}
	subs := append([]Subscriber(nil), r.subs...)
	r.mu.Unlock()

	observability.RegistryMetrics().RecordRelayed(payload.Type)
	for _, fn := range subs {
		fn(entry)
	}
}

// Events returns retained entries in emission order, optionally filtered by
// escrow identifier. A non-positive limit returns everything retained.
func (r *Registry) Events(escrowID string, limit int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.log))
	for _, entry := range r.log {
		if escrowID != "" && entry.EscrowID != escrowID {
			continue
		}
		out = append(out, entry)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
