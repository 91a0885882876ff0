// Package stream fans statement updates out to live subscribers (SSE clients).
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	StatementCreated    = "statement.created"
	StatementUpdated    = "statement.updated"
	SettlementCompleted = "settlement.completed"
	WalletChanged       = "wallet.changed"
)

// Event describes a change to a statement or wallet. Amounts are decimal strings.
type Event struct {
	Type             string    `json:"type"`
	StatementID      string    `json:"statement_id,omitempty"`
	PropertyID       string    `json:"property_id,omitempty"`
	WalletID         string    `json:"wallet_id,omitempty"`
	PaymentStatus    string    `json:"payment_status,omitempty"`
	SettlementStatus string    `json:"settlement_status,omitempty"`
	TotalPaid        string    `json:"total_paid,omitempty"`
	Balance          string    `json:"balance,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Stream fan-outs events to all active subscribers.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Uint64
}

type subscriber struct {
	ch         chan Event
	propertyID string
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// A non-empty propertyID limits delivery to that property's events. The channel is
// closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, propertyID string) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, propertyID: propertyID}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all matching subscribers without blocking.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.propertyID != "" && sub.propertyID != evt.PropertyID {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// slow subscriber
			s.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }
