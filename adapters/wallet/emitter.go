package wallet

import (
	"sync"

	"github.com/layer-3/onerecurr/core"
)

// emitter fans provider events out to subscribers.
type emitter struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]func(core.ProviderEvent)
}

func (e *emitter) Subscribe(fn func(core.ProviderEvent)) (unsubscribe func()) {
	e.mu.Lock()
	if e.subs == nil {
		e.subs = make(map[uint64]func(core.ProviderEvent))
	}
	e.nextID++
	id := e.nextID
	e.subs[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
		})
	}
}

// Emit delivers ev to every subscriber synchronously.
func (e *emitter) Emit(ev core.ProviderEvent) {
	e.mu.Lock()
	subs := make([]func(core.ProviderEvent), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
