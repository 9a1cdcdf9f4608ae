package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/ports"
)

// EIP-1193 and JSON-RPC error codes with a domain meaning.
const (
	codeUserRejected   = 4001
	codeUnsupported    = 4200
	codeMethodNotFound = -32601
)

// RPCProvider forwards requests to a remote JSON-RPC signer (a clef or node
// endpoint with unlocked accounts).
type RPCProvider struct {
	emitter

	client    *rpc.Client
	closeOnce sync.Once
}

var _ ports.WalletProvider = (*RPCProvider)(nil)

func NewRPCProvider(client *rpc.Client) *RPCProvider {
	return &RPCProvider{client: client}
}

// DialRPCProvider connects to url over HTTP, WebSocket or IPC.
func DialRPCProvider(ctx context.Context, url string) (*RPCProvider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial wallet rpc: %w", err)
	}
	return NewRPCProvider(client), nil
}

func (p *RPCProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var result json.RawMessage
	if err := p.client.CallContext(ctx, &result, method, params...); err != nil {
		return nil, mapRPCError(method, err)
	}
	return result, nil
}

// Close drops the connection and emits a disconnect event.
func (p *RPCProvider) Close() {
	p.closeOnce.Do(func() {
		p.client.Close()
		p.Emit(core.ProviderEvent{Type: core.EventDisconnect})
	})
}

func mapRPCError(method string, err error) error {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return err
	}
	switch rpcErr.ErrorCode() {
	case codeUserRejected:
		return fmt.Errorf("%w: %s", core.ErrUserRejected, rpcErr.Error())
	case codeUnsupported, codeMethodNotFound:
		return fmt.Errorf("%w: %s", core.ErrUnsupportedMethod, method)
	}
	return err
}
