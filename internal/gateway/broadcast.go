package gateway

import (
	"sync"

	"can-safety-gateway/internal/models"
)

// broadcaster fans safety events out to live subscribers. Slow subscribers
// miss events rather than stall the gateway loop.
type broadcaster struct {
	mu   sync.RWMutex
	subs map[chan models.SafetyEvent]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan models.SafetyEvent]struct{})}
}

func (b *broadcaster) subscribe(buf int) (<-chan models.SafetyEvent, func()) {
	ch := make(chan models.SafetyEvent, buf)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *broadcaster) publish(e models.SafetyEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
