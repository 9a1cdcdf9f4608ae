package wallet

import (
	"sync"

	"github.com/google/uuid"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/ports"
)

type announced struct {
	info     core.ProviderInfo
	provider ports.WalletProvider
}

// Registry collects announced providers, EIP-6963 style. A provider announced
// again under the same UUID replaces the earlier entry in place.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]announced
	nextID  uint64
	subs    map[uint64]func(core.ProviderInfo)
}

var _ ports.ProviderRegistry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]announced),
		subs:    make(map[uint64]func(core.ProviderInfo)),
	}
}

// Announce registers p. An empty UUID is filled in; the stored info is returned.
func (r *Registry) Announce(info core.ProviderInfo, p ports.WalletProvider) core.ProviderInfo {
	if info.UUID == "" {
		info.UUID = uuid.NewString()
	}

	r.mu.Lock()
	if _, ok := r.entries[info.UUID]; !ok {
		r.order = append(r.order, info.UUID)
	}
	r.entries[info.UUID] = announced{info: info, provider: p}
	subs := make([]func(core.ProviderInfo), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(info)
	}
	return info
}

// Providers returns provider details in announcement order.
func (r *Registry) Providers() []core.ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.ProviderInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].info)
	}
	return out
}

func (r *Registry) Provider(id string) (ports.WalletProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.provider, ok
}

// Subscribe calls fn for every later announcement.
func (r *Registry) Subscribe(fn func(core.ProviderInfo)) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}
