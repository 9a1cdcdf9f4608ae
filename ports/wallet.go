package ports

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/onerecurr/core"
)

// WalletProvider is an EIP-1193 style provider: JSON-RPC requests plus pushed events.
type WalletProvider interface {
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)

	// Subscribe registers fn for provider events and returns a func that removes it.
	Subscribe(fn func(core.ProviderEvent)) (unsubscribe func())
}

// ProviderRegistry holds the providers announced so far.
type ProviderRegistry interface {
	Providers() []core.ProviderInfo
	Provider(uuid string) (WalletProvider, bool)
}

// Wallet is the connected account as seen by the session manager.
type Wallet interface {
	Account() (common.Address, error)
	// ChainID returns the cached chain id, or nil when nothing is connected.
	ChainID() *big.Int
	RefreshChainID(ctx context.Context) (*big.Int, error)
	TransactionCount(ctx context.Context) (uint64, error)
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)
}
