package panel

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concierge/internal/core"
)

type subscriber struct {
	conn   core.SignalConnection
	cancel context.CancelFunc
}

// Hub is the set of connected panel clients.
type Hub struct {
	mu          sync.RWMutex
	subs        map[core.SubscriberID]*subscriber
	policy      Policy
	onLastLeave func()
}

// NewHub builds a hub. onLastLeave runs on its own goroutine whenever the
// last subscriber goes away.
func NewHub(policy Policy, onLastLeave func()) *Hub {
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Hub{
		subs:        make(map[core.SubscriberID]*subscriber),
		policy:      policy,
		onLastLeave: onLastLeave,
	}
}

func (h *Hub) Add(id core.SubscriberID, conn core.SignalConnection, cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[id] = &subscriber{conn: conn, cancel: cancel}
	log.Info().Str("module", "panel.hub").Str("sub", string(id)).Int("count", len(h.subs)).Msg("subscriber added")
}

// Remove cancels and closes the subscriber. Unknown ids are ignored.
func (h *Hub) Remove(id core.SubscriberID) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
	}
	left := len(h.subs)
	h.mu.Unlock()
	if !ok {
		return
	}

	if sub.cancel != nil {
		sub.cancel()
	}
	sub.conn.Close()
	log.Info().Str("module", "panel.hub").Str("sub", string(id)).Int("count", left).Msg("subscriber removed")

	if left == 0 && h.onLastLeave != nil {
		go h.onLastLeave()
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast offers f to every subscriber without blocking and applies the
// policy to the ones that are full. It returns the ids that missed the frame.
func (h *Hub) Broadcast(f core.Frame) []core.SubscriberID {
	h.mu.RLock()
	targets := make(map[core.SubscriberID]core.SignalConnection, len(h.subs))
	for id, s := range h.subs {
		targets[id] = s.conn
	}
	h.mu.RUnlock()

	var dropped []core.SubscriberID
	for id, conn := range targets {
		err := conn.TrySend(f)
		if err == nil {
			continue
		}
		dropped = append(dropped, id)
		if !errors.Is(err, ErrBackpressure) {
			continue
		}
		switch h.policy.OnBackPressure(id, f) {
		case KickSubscriber:
			log.Warn().Str("module", "panel.hub").Str("sub", string(id)).Msg("kicking slow subscriber")
			h.Remove(id)
		case DropFrame, NoAction:
		}
	}
	return dropped
}
