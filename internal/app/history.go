package app

import (
	"sync"

	"ayod/internal/eventbus"
	"ayod/internal/httpapi"
	"ayod/internal/trigger"
)

const defaultHistorySize = 200

// history keeps a bounded ring of recent job lifecycle events consumed
// from the bus, newest first in snapshots.
type history struct {
	mu   sync.Mutex
	ring []httpapi.RecentEvent
	next int
	full bool
}

func newHistory(size int) *history {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &history{ring: make([]httpapi.RecentEvent, size)}
}

// run consumes bus events until the channel closes.
func (h *history) run(events <-chan eventbus.Event) {
	for ev := range events {
		switch ev.Type {
		case eventbus.TypeJobScheduled, eventbus.TypeJobRemoved,
			eventbus.TypeJobFired, eventbus.TypeJobMisfired:
		default:
			continue
		}
		info, ok := ev.Data.(trigger.FireInfo)
		if !ok {
			continue
		}
		h.add(httpapi.RecentEvent{
			Type:  ev.Type,
			ID:    info.ID,
			Label: info.Label,
			At:    ev.Time,
			Err:   info.Err,
		})
	}
}

func (h *history) add(ev httpapi.RecentEvent) {
	h.mu.Lock()
	h.ring[h.next] = ev
	h.next = (h.next + 1) % len(h.ring)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// snapshot returns events newest first.
func (h *history) snapshot() []httpapi.RecentEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.next
	if h.full {
		n = len(h.ring)
	}
	out := make([]httpapi.RecentEvent, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.ring)) % len(h.ring)
		out = append(out, h.ring[idx])
	}
	return out
}
