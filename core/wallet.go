package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ProviderInfo identifies an announced wallet provider.
type ProviderInfo struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
	RDNS string `json:"rdns"`
}

// Provider event types, as emitted by EIP-1193 providers.
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
	EventDisconnect      = "disconnect"
)

// ProviderEvent is a notification pushed by a wallet provider.
type ProviderEvent struct {
	Type     string
	Accounts []common.Address
	ChainID  *big.Int
}

// WalletState is the adapter's view of the active connection.
type WalletState struct {
	Connected bool           `json:"connected"`
	Provider  ProviderInfo   `json:"provider"`
	Account   common.Address `json:"account"`
	ChainID   string         `json:"chain_id,omitempty"`
}

// WalletEvent tells dependants that the connected account changed or went away.
type WalletEvent struct {
	Type     string // connected | account_changed | disconnected
	Previous common.Address
	Account  common.Address
}
