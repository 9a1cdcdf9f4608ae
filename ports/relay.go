package ports

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/onerecurr/core"
)

// Subscription is a disposable registration.
type Subscription interface {
	Unsubscribe()
}

// Relay is a duplex message bus to the off-chain relay service.
type Relay interface {
	// Send writes v as JSON, or queues it until the next connect.
	Send(v any) error
	Subscribe(fn func(core.RelayFrame)) Subscription
	OnStatus(fn func(prev, next core.ConnectionStatus)) Subscription
	Status() core.ConnectionStatus
}

// SessionSigner exposes the active session key.
type SessionSigner interface {
	SessionAddress() (common.Address, error)
	SignWithSessionKey(message []byte) ([]byte, error)
}
