// Package eventbus implements the per-container log/stat fan-out hub of
// spec.md §4.3: one hub per internal_id, a bounded history ring for late
// subscribers, and slow-subscriber dropping so one stalled WebSocket
// client can never back-pressure the rest of the daemon.
package eventbus

import (
	"sync"

	"github.com/melih/lightd/internal/domain"
	"github.com/rs/zerolog/log"
)

// historyCapacity mirrors original_source's log_buffer, capped at 1000
// entries per container.
const historyCapacity = 1000

// subscriberBacklog is the max number of buffered-but-undelivered events
// a subscriber may accumulate before it is dropped, matching the
// original's bounded broadcast channel capacity used for slow-consumer
// eviction.
const subscriberBacklog = 256

// hub is the fan-out point for one container.
type hub struct {
	mu      sync.Mutex
	history []domain.Event
	lastStats domain.Stats
	haveStats bool
	subs    map[chan domain.Event]struct{}
}

func newHub() *hub {
	return &hub{subs: map[chan domain.Event]struct{}{}}
}

func (h *hub) publish(ev domain.Event) {
	h.mu.Lock()
	h.history = append(h.history, ev)
	if len(h.history) > historyCapacity {
		h.history = h.history[len(h.history)-historyCapacity:]
	}
	subs := make([]chan domain.Event, 0, len(h.subs))
	for ch := range h.subs {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			h.dropSlow(ch)
		}
	}
}

func (h *hub) dropSlow(ch chan domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
		log.Warn().Msg("dropped slow event subscriber")
	}
}

func (h *hub) subscribe() (chan domain.Event, []domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan domain.Event, subscriberBacklog)
	h.subs[ch] = struct{}{}
	snapshot := make([]domain.Event, len(h.history))
	copy(snapshot, h.history)
	return ch, snapshot
}

func (h *hub) unsubscribe(ch chan domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Bus is the process-wide EventBus: a registry of per-container hubs
// keyed by internal_id, analogous to the original's
// DashMap<String, EventHub>.
type Bus struct {
	mu   sync.Mutex
	hubs map[string]*hub
}

func New() *Bus {
	return &Bus{hubs: map[string]*hub{}}
}

func (b *Bus) hubFor(internalID string) *hub {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.hubs[internalID]
	if !ok {
		h = newHub()
		b.hubs[internalID] = h
	}
	return h
}

// Publish fans ev out to every current subscriber of internalID and
// appends it to that container's history ring.
func (b *Bus) Publish(internalID string, ev domain.Event) {
	b.hubFor(internalID).publish(ev)
}

// PublishStats is Publish for the "stats" channel, but only if the
// sample differs from the last one published for this container — spec.md
// §4.3's change-detection rule, avoiding a flood of identical samples.
func (b *Bus) PublishStats(internalID string, s domain.Stats, encode func(domain.Stats) string) {
	h := b.hubFor(internalID)
	h.mu.Lock()
	changed := !h.haveStats || s.Changed(h.lastStats)
	if changed {
		h.lastStats = s
		h.haveStats = true
	}
	h.mu.Unlock()
	if !changed {
		return
	}
	b.Publish(internalID, domain.Event{Tag: domain.EventStats, Data: encode(s)})
}

// Subscription is a live handle on one container's event stream.
type Subscription struct {
	Events  <-chan domain.Event
	History []domain.Event

	bus        *Bus
	internalID string
	ch         chan domain.Event
}

// Subscribe registers a new subscriber and returns its channel along
// with a snapshot of buffered history, so a client that just connected
// can catch up on recent console output before live events arrive.
func (b *Bus) Subscribe(internalID string) *Subscription {
	h := b.hubFor(internalID)
	ch, history := h.subscribe()
	return &Subscription{Events: ch, History: history, bus: b, internalID: internalID, ch: ch}
}

// Close unregisters the subscription from its hub.
func (s *Subscription) Close() {
	s.bus.hubFor(s.internalID).unsubscribe(s.ch)
}

// HistorySnapshot returns the buffered events for internalID without
// subscribing, used to serve an on-demand "logs" request (spec.md §4.3).
func (b *Bus) HistorySnapshot(internalID string) []domain.Event {
	h := b.hubFor(internalID)
	h.mu.Lock()
	defer h.mu.Unlock()
	snapshot := make([]domain.Event, len(h.history))
	copy(snapshot, h.history)
	return snapshot
}

// Drop removes a container's hub entirely, closing every subscriber.
// Called when a container is deleted so its channel doesn't leak.
func (b *Bus) Drop(internalID string) {
	b.mu.Lock()
	h, ok := b.hubs[internalID]
	if ok {
		delete(b.hubs, internalID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
