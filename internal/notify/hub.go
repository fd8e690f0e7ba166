package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"availability-engine/internal/models"
)

// Hub fans change events out to in-process subscribers, one topic per
// listing. Sends never block: a subscriber whose buffer is full misses
// the event.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	buffer int
}

// Subscription receives the events of one listing until closed.
type Subscription struct {
	ListingID string
	C         <-chan models.AvailabilityChangeEvent

	ch   chan models.AvailabilityChangeEvent
	hub  *Hub
	once sync.Once
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe opens a subscription on listingID's topic
func (h *Hub) Subscribe(listingID string) *Subscription {
	ch := make(chan models.AvailabilityChangeEvent, h.buffer)
	sub := &Subscription{ListingID: listingID, C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	topic, ok := h.topics[listingID]
	if !ok {
		topic = make(map[*Subscription]struct{})
		h.topics[listingID] = topic
	}
	topic[sub] = struct{}{}
	return sub
}

// Close detaches the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		if topic, ok := s.hub.topics[s.ListingID]; ok {
			delete(topic, s)
			if len(topic) == 0 {
				delete(s.hub.topics, s.ListingID)
			}
		}
		close(s.ch)
	})
}

// Subscribers returns the number of open subscriptions on a listing
func (h *Hub) Subscribers(listingID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[listingID])
}

func (h *Hub) Name() string {
	return "hub"
}

// Publish delivers event to the listing's subscribers without blocking
func (h *Hub) Publish(_ context.Context, event models.AvailabilityChangeEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.topics[event.ListingID] {
		select {
		case sub.ch <- event:
		default:
			log.Warn().
				Str("listing_id", event.ListingID).
				Str("event_id", event.EventID).
				Msg("Subscriber buffer full, dropping change event")
		}
	}
	return nil
}

// HandleChange feeds events consumed from a broker into the hub
func (h *Hub) HandleChange(ctx context.Context, event *models.AvailabilityChangeEvent) error {
	return h.Publish(ctx, *event)
}
