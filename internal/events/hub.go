// Package events delivers engine events to observers: in-process viewer rooms
// for streaming clients and a Redis relay for other instances.
package events

import (
	"context"
	"sync"

	model "auction-engine/internal/models"
	"auction-engine/utils"
)

// DefaultRoomBuffer is the per-subscriber channel capacity
const DefaultRoomBuffer = 32

// Publisher is anything that accepts engine events
type Publisher interface {
	Publish(ctx context.Context, event model.Event)
}

// Hub keeps one room of subscribers per auction. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[uint64]chan model.Event
	nextID uint64
	buffer int
}

// NewHub creates an empty hub; buffer <= 0 uses DefaultRoomBuffer
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultRoomBuffer
	}
	return &Hub{
		rooms:  make(map[string]map[uint64]chan model.Event),
		buffer: buffer,
	}
}

// Subscribe joins the room of auctionID. The channel is closed when the
// auction ends or the subscriber leaves.
func (h *Hub) Subscribe(auctionID string) (uint64, <-chan model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan model.Event, h.buffer)

	room, ok := h.rooms[auctionID]
	if !ok {
		room = make(map[uint64]chan model.Event)
		h.rooms[auctionID] = room
	}
	room[id] = ch
	return id, ch
}

// Unsubscribe leaves the room; unknown ids are ignored
func (h *Hub) Unsubscribe(auctionID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[auctionID]
	if !ok {
		return
	}
	if ch, ok := room[id]; ok {
		close(ch)
		delete(room, id)
	}
	if len(room) == 0 {
		delete(h.rooms, auctionID)
	}
}

// Publish hands event to every subscriber of its auction. auction_ended
// closes the room after delivery.
func (h *Hub) Publish(ctx context.Context, event model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[event.AuctionID]
	dropped := 0
	for _, ch := range room {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		utils.Warn("events: slow subscribers missed an event", map[string]any{
			"auction_id": event.AuctionID,
			"type":       string(event.Type),
			"dropped":    dropped,
		})
	}

	if event.Type == model.EventAuctionEnded {
		for id, ch := range room {
			close(ch)
			delete(room, id)
		}
		delete(h.rooms, event.AuctionID)
	}
}

// Subscribers returns the number of subscribers watching auctionID
func (h *Hub) Subscribers(auctionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[auctionID])
}

// Fanout publishes every event to each of its publishers in order
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, event model.Event) {
	for _, p := range f {
		p.Publish(ctx, event)
	}
}
