package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/ports"
	"github.com/sirupsen/logrus"
)

const (
	KeyConnectedAddress = "oneRecurr_connectedAddress"
	KeySelectedWallet   = "oneRecurr_selectedWalletUuid"

	// DefaultWalletPreference picks Ambire when no provider id is given.
	DefaultWalletPreference = "ambire"
)

// Wallet event types.
const (
	WalletConnected      = "connected"
	WalletAccountChanged = "account_changed"
	WalletDisconnected   = "disconnected"
)

// WalletService tracks the connection to one announced wallet provider.
type WalletService struct {
	registry   ports.ProviderRegistry
	store      ports.Store
	preference string
	log        logrus.FieldLogger

	mu          sync.RWMutex
	info        core.ProviderInfo
	provider    ports.WalletProvider
	account     common.Address
	chainID     *big.Int
	unsubscribe func()

	listenersMu sync.Mutex
	nextID      uint64
	listeners   map[uint64]func(core.WalletEvent)
}

var _ ports.Wallet = (*WalletService)(nil)

// NewWalletService creates a disconnected wallet service. An empty preference
// selects DefaultWalletPreference.
func NewWalletService(registry ports.ProviderRegistry, store ports.Store, preference string, log logrus.FieldLogger) *WalletService {
	if preference == "" {
		preference = DefaultWalletPreference
	}
	return &WalletService{
		registry:   registry,
		store:      store,
		preference: strings.ToLower(preference),
		log:        componentLogger(log, "wallet"),
		listeners:  make(map[uint64]func(core.WalletEvent)),
	}
}

// Connect requests account access from providerID, or from the preferred
// provider when providerID is empty.
func (s *WalletService) Connect(ctx context.Context, providerID string) (core.WalletState, error) {
	info, provider, err := s.choose(providerID)
	if err != nil {
		return core.WalletState{}, err
	}

	accounts, err := requestAccounts(ctx, provider, "eth_requestAccounts")
	if err != nil {
		return core.WalletState{}, fmt.Errorf("%w: %w", core.ErrNoWalletAvailable, err)
	}
	if len(accounts) == 0 {
		return core.WalletState{}, fmt.Errorf("%w: no accounts returned", core.ErrNoWalletAvailable)
	}

	s.attach(ctx, info, provider, accounts[0])
	return s.State(), nil
}

// AutoReconnect restores the last connection without prompting the user.
// Stale persisted state is cleared. It reports whether a wallet is now connected.
func (s *WalletService) AutoReconnect(ctx context.Context) (bool, error) {
	id, err := s.store.Get(ctx, KeySelectedWallet)
	if errors.Is(err, core.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	provider, ok := s.registry.Provider(id)
	if !ok {
		s.log.WithField("provider", id).Info("saved wallet is no longer available")
		s.forget(ctx)
		return false, nil
	}

	accounts, err := requestAccounts(ctx, provider, "eth_accounts")
	if err != nil || len(accounts) == 0 {
		s.log.WithError(err).Info("saved wallet has no authorized accounts")
		s.forget(ctx)
		return false, nil
	}

	var info core.ProviderInfo
	for _, p := range s.registry.Providers() {
		if p.UUID == id {
			info = p
			break
		}
	}
	s.attach(ctx, info, provider, accounts[0])
	return true, nil
}

// Disconnect drops the connection and the persisted reconnect state.
func (s *WalletService) Disconnect(ctx context.Context) {
	s.mu.Lock()
	prev := s.account
	unsubscribe := s.unsubscribe
	connected := s.provider != nil
	s.info = core.ProviderInfo{}
	s.provider = nil
	s.account = common.Address{}
	s.chainID = nil
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.forget(ctx)

	if connected {
		s.log.WithField("account", prev.Hex()).Info("wallet disconnected")
		s.emit(core.WalletEvent{Type: WalletDisconnected, Previous: prev})
	}
}

// Account returns the connected account.
func (s *WalletService) Account() (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.provider == nil {
		return common.Address{}, core.ErrNoWalletConnected
	}
	return s.account, nil
}

func (s *WalletService) ChainID() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.provider == nil || s.chainID == nil {
		return nil
	}
	return new(big.Int).Set(s.chainID)
}

// Provider returns the active provider, or nil.
func (s *WalletService) Provider() ports.WalletProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// RefreshChainID asks the provider for its chain id and caches it.
func (s *WalletService) RefreshChainID(ctx context.Context) (*big.Int, error) {
	raw, err := s.Request(ctx, "eth_chainId")
	if err != nil {
		return nil, err
	}
	var id hexutil.Big
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("invalid chain id %s: %w", raw, err)
	}

	s.mu.Lock()
	s.chainID = new(big.Int).Set(id.ToInt())
	s.mu.Unlock()
	return id.ToInt(), nil
}

// TransactionCount returns the pending transaction count of the connected account.
func (s *WalletService) TransactionCount(ctx context.Context) (uint64, error) {
	account, err := s.Account()
	if err != nil {
		return 0, err
	}
	raw, err := s.Request(ctx, "eth_getTransactionCount", account.Hex(), "pending")
	if err != nil {
		return 0, err
	}
	var n hexutil.Uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("invalid transaction count %s: %w", raw, err)
	}
	return uint64(n), nil
}

// Request forwards a JSON-RPC call to the active provider.
func (s *WalletService) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	provider := s.Provider()
	if provider == nil {
		return nil, core.ErrNoWalletConnected
	}
	return provider.Request(ctx, method, params...)
}

// State returns a snapshot of the connection.
func (s *WalletService) State() core.WalletState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := core.WalletState{
		Connected: s.provider != nil,
		Provider:  s.info,
		Account:   s.account,
	}
	if s.chainID != nil {
		state.ChainID = s.chainID.String()
	}
	return state
}

// OnEvent registers fn for connection changes.
func (s *WalletService) OnEvent(fn func(core.WalletEvent)) (unsubscribe func()) {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *WalletService) choose(providerID string) (core.ProviderInfo, ports.WalletProvider, error) {
	infos := s.registry.Providers()
	if len(infos) == 0 {
		return core.ProviderInfo{}, nil, core.ErrNoWalletAvailable
	}

	if providerID != "" {
		for _, info := range infos {
			if info.UUID == providerID {
				return s.resolve(info)
			}
		}
		return core.ProviderInfo{}, nil, fmt.Errorf("%w: unknown provider %q", core.ErrNoWalletAvailable, providerID)
	}

	chosen := infos[0]
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name), s.preference) ||
			strings.Contains(strings.ToLower(info.RDNS), s.preference) {
			chosen = info
			break
		}
	}
	return s.resolve(chosen)
}

// resolve looks up info, which may have been announced and then withdrawn.
func (s *WalletService) resolve(info core.ProviderInfo) (core.ProviderInfo, ports.WalletProvider, error) {
	p, ok := s.registry.Provider(info.UUID)
	if !ok {
		return core.ProviderInfo{}, nil, fmt.Errorf("%w: provider %q is gone", core.ErrNoWalletAvailable, info.UUID)
	}
	return info, p, nil
}

func (s *WalletService) attach(ctx context.Context, info core.ProviderInfo, provider ports.WalletProvider, account common.Address) {
	s.mu.Lock()
	prev := s.account
	wasConnected := s.provider != nil
	oldUnsubscribe := s.unsubscribe
	s.info = info
	s.provider = provider
	s.account = account
	s.chainID = nil
	s.unsubscribe = nil
	s.mu.Unlock()

	if oldUnsubscribe != nil {
		oldUnsubscribe()
	}
	unsubscribe := provider.Subscribe(s.handleProviderEvent)
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	if _, err := s.RefreshChainID(ctx); err != nil {
		s.log.WithError(err).Warn("failed to read chain id")
	}
	s.persist(ctx, info.UUID, account)

	s.log.WithFields(logrus.Fields{
		"account":  account.Hex(),
		"provider": info.Name,
	}).Info("wallet connected")

	if wasConnected && prev != account {
		s.emit(core.WalletEvent{Type: WalletAccountChanged, Previous: prev, Account: account})
		return
	}
	s.emit(core.WalletEvent{Type: WalletConnected, Account: account})
}

func (s *WalletService) handleProviderEvent(ev core.ProviderEvent) {
	ctx := context.Background()

	switch ev.Type {
	case core.EventAccountsChanged:
		if len(ev.Accounts) == 0 {
			s.Disconnect(ctx)
			return
		}
		s.mu.Lock()
		prev := s.account
		uuid := s.info.UUID
		if s.provider == nil || prev == ev.Accounts[0] {
			s.mu.Unlock()
			return
		}
		s.account = ev.Accounts[0]
		s.mu.Unlock()

		s.persist(ctx, uuid, ev.Accounts[0])
		s.log.WithFields(logrus.Fields{
			"previous": prev.Hex(),
			"account":  ev.Accounts[0].Hex(),
		}).Info("wallet account changed")
		s.emit(core.WalletEvent{Type: WalletAccountChanged, Previous: prev, Account: ev.Accounts[0]})

	case core.EventChainChanged:
		if ev.ChainID == nil {
			return
		}
		s.mu.Lock()
		if s.provider != nil {
			s.chainID = new(big.Int).Set(ev.ChainID)
		}
		s.mu.Unlock()
		s.log.WithField("chain_id", ev.ChainID.String()).Info("wallet chain changed")

	case core.EventDisconnect:
		s.Disconnect(ctx)
	}
}

func (s *WalletService) persist(ctx context.Context, providerID string, account common.Address) {
	if err := s.store.Set(ctx, KeyConnectedAddress, account.Hex(), 0); err != nil {
		s.log.WithError(err).Warn("failed to persist connected address")
	}
	if providerID == "" {
		return
	}
	if err := s.store.Set(ctx, KeySelectedWallet, providerID, 0); err != nil {
		s.log.WithError(err).Warn("failed to persist selected wallet")
	}
}

func (s *WalletService) forget(ctx context.Context) {
	if err := s.store.Delete(ctx, KeyConnectedAddress, KeySelectedWallet); err != nil {
		s.log.WithError(err).Warn("failed to clear wallet state")
	}
}

func (s *WalletService) emit(ev core.WalletEvent) {
	s.listenersMu.Lock()
	listeners := make([]func(core.WalletEvent), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

func requestAccounts(ctx context.Context, p ports.WalletProvider, method string) ([]common.Address, error) {
	raw, err := p.Request(ctx, method)
	if err != nil {
		return nil, err
	}
	var accounts []common.Address
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("invalid accounts response: %w", err)
	}
	return accounts, nil
}
