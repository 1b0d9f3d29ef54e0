package stream

import (
	"context"
	"sync"

	"github.com/rlarcher1021/seazwf-sub000/pkg/events"
)

// Hub fans allocation events out to live subscribers. Slow subscribers miss events
// instead of blocking the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan events.Event]subscription
}

type subscription struct {
	budgets map[int64]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[chan events.Event]subscription{}}
}

// Subscribe registers a channel; with budgetIDs set, only those budgets' events are delivered.
func (h *Hub) Subscribe(buffer int, budgetIDs ...int64) chan events.Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan events.Event, buffer)
	sub := subscription{}
	if len(budgetIDs) > 0 {
		sub.budgets = make(map[int64]struct{}, len(budgetIDs))
		for _, id := range budgetIDs {
			sub.budgets[id] = struct{}{}
		}
	}
	h.mu.Lock()
	h.subs[ch] = sub
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan events.Event) {
	h.mu.Lock()
	_, exists := h.subs[ch]
	if exists {
		delete(h.subs, ch)
	}
	h.mu.Unlock()
	if exists {
		close(ch)
	}
}

func (h *Hub) Publish(ctx context.Context, evt events.Event) error {
	_ = ctx
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, sub := range h.subs {
		if sub.budgets != nil {
			if _, ok := sub.budgets[evt.BudgetID]; !ok {
				continue
			}
		}
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
