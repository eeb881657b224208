package stream

import (
	"context"
	"sync"
	"time"
)

// Event kinds published on the activity stream.
const (
	KindVouch  = "vouch"
	KindReport = "report"
)

// Location is the approximate point of the opportunity an event concerns,
// used by map visualisations.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Event describes a ledger mutation for live consumers: a vouch or report
// landed and the record's decayed score moved to Score.
type Event struct {
	OpportunityID string    `json:"opportunity_id"`
	Kind          string    `json:"kind"`
	Score         int       `json:"score"`
	Location      Location  `json:"location"`
	Timestamp     time.Time `json:"timestamp"`
}

// Stream fan-outs ledger events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
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

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
