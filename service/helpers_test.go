package service

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/onerecurr/adapters/store"
	"github.com/layer-3/onerecurr/adapters/wallet"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/internal/eth"
	"github.com/stretchr/testify/require"
)

var (
	sepolia        = big.NewInt(11155111)
	actionExecutor = common.HexToAddress("0x29e26275177A5DD5cc92bE0dF2700D1BE2F9D6BE")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixedNonce uint64

func (n fixedNonce) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(n), nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	sessions []core.SessionEvent
	channels []core.ChannelEvent
}

func (p *recordingPublisher) PublishSession(_ context.Context, ev core.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, ev)
	return nil
}

func (p *recordingPublisher) PublishChannel(_ context.Context, ev core.ChannelEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, ev)
	return nil
}

func (p *recordingPublisher) sessionTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sessions))
	for _, ev := range p.sessions {
		out = append(out, ev.Type+":"+string(ev.Reason))
	}
	return out
}

// harness wires a wallet service to one local provider over a memory store.
type harness struct {
	clock    *fakeClock
	store    *store.MemoryStore
	registry *wallet.Registry
	provider *wallet.LocalProvider
	info     core.ProviderInfo
	wallet   *WalletService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	signer, err := eth.GenerateSigner()
	require.NoError(t, err)

	h := &harness{clock: newFakeClock(), registry: wallet.NewRegistry()}
	h.store = store.NewMemoryStore(h.clock)
	h.provider = wallet.NewLocalProvider(signer, sepolia, fixedNonce(3))
	h.info = h.registry.Announce(core.ProviderInfo{Name: "Ambire", RDNS: "com.ambire.wallet"}, h.provider)
	h.wallet = NewWalletService(h.registry, h.store, "", nil)
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	_, err := h.wallet.Connect(context.Background(), "")
	require.NoError(t, err)
}

func (h *harness) sessions(opts ...SessionOption) *SessionService {
	opts = append([]SessionOption{WithSessionClock(h.clock)}, opts...)
	return NewSessionService(h.wallet, h.store, actionExecutor, opts...)
}
