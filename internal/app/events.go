package app

import (
	"context"
	"sync"

	"postpilot/internal/eventbus"
	logx "postpilot/pkg/logx"
)

// eventMonitor is the in-process consumer of pipeline events. It logs each
// event at debug level and keeps per-type counters that /healthz exposes,
// so an operator can see delivery activity without log scraping.
type eventMonitor struct {
	log logx.Logger

	mu     sync.Mutex
	counts map[string]uint64
}

func newEventMonitor(log logx.Logger) *eventMonitor {
	return &eventMonitor{log: log, counts: map[string]uint64{}}
}

// run consumes events until ctx ends. Intended for a supervised goroutine.
func (m *eventMonitor) run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.record(e)
		}
	}
}

func (m *eventMonitor) record(e eventbus.Event) {
	m.mu.Lock()
	m.counts[e.Type]++
	m.mu.Unlock()
	m.log.Debug("pipeline event", logx.String("type", e.Type), logx.Any("data", e.Data))
}

// snapshot returns a copy of the per-type counters.
func (m *eventMonitor) snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	return out
}
