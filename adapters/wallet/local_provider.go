package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/internal/eth"
	"github.com/layer-3/onerecurr/ports"
)

// AuthorizationRequest is the parameter object of wallet_signAuthorization.
type AuthorizationRequest struct {
	ChainID *hexutil.Big   `json:"chainId"`
	Address common.Address `json:"address"`
	Nonce   hexutil.Uint64 `json:"nonce"`
}

// LocalProvider is an in-process development wallet backed by a private key.
// Account access must be granted with eth_requestAccounts before eth_accounts
// reports the address, the same way an injected wallet behaves.
type LocalProvider struct {
	emitter

	signer  *eth.LocalSigner
	chainID *big.Int
	nonces  ports.NonceSource

	mu         sync.Mutex
	authorized bool
	rejecting  bool
	noDirect   bool
}

var _ ports.WalletProvider = (*LocalProvider)(nil)

// NewLocalProvider creates a provider for signer on chainID. nonces may be nil,
// in which case every account reports a transaction count of zero.
func NewLocalProvider(signer *eth.LocalSigner, chainID *big.Int, nonces ports.NonceSource) *LocalProvider {
	return &LocalProvider{signer: signer, chainID: new(big.Int).Set(chainID), nonces: nonces}
}

func (p *LocalProvider) Address() common.Address { return p.signer.Address() }

// SetRejecting makes every prompt fail as if the user declined it.
func (p *LocalProvider) SetRejecting(v bool) {
	p.mu.Lock()
	p.rejecting = v
	p.mu.Unlock()
}

// DisableDirectAuthorization makes wallet_signAuthorization unsupported, like
// most wallets today.
func (p *LocalProvider) DisableDirectAuthorization(v bool) {
	p.mu.Lock()
	p.noDirect = v
	p.mu.Unlock()
}

// SwitchChain changes the chain and notifies subscribers.
func (p *LocalProvider) SwitchChain(chainID *big.Int) {
	p.mu.Lock()
	p.chainID = new(big.Int).Set(chainID)
	p.mu.Unlock()
	p.Emit(core.ProviderEvent{Type: core.EventChainChanged, ChainID: new(big.Int).Set(chainID)})
}

// Remember grants account access up front, as a wallet does for a site it
// already trusts.
func (p *LocalProvider) Remember() {
	p.mu.Lock()
	p.authorized = true
	p.mu.Unlock()
}

// Revoke withdraws account access and reports an empty account list.
func (p *LocalProvider) Revoke() {
	p.mu.Lock()
	p.authorized = false
	p.mu.Unlock()
	p.Emit(core.ProviderEvent{Type: core.EventAccountsChanged})
}

func (p *LocalProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	switch method {
	case "eth_requestAccounts":
		if err := p.prompt(); err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.authorized = true
		p.mu.Unlock()
		return json.Marshal([]common.Address{p.signer.Address()})

	case "eth_accounts":
		p.mu.Lock()
		authorized := p.authorized
		p.mu.Unlock()
		if !authorized {
			return json.Marshal([]common.Address{})
		}
		return json.Marshal([]common.Address{p.signer.Address()})

	case "eth_chainId":
		p.mu.Lock()
		id := p.chainID
		p.mu.Unlock()
		return json.Marshal((*hexutil.Big)(id))

	case "eth_getTransactionCount":
		addr, err := addressParam(params, 0)
		if err != nil {
			return nil, err
		}
		var nonce uint64
		if p.nonces != nil {
			if nonce, err = p.nonces.PendingNonceAt(ctx, addr); err != nil {
				return nil, fmt.Errorf("failed to fetch nonce: %w", err)
			}
		}
		return json.Marshal(hexutil.Uint64(nonce))

	case "personal_sign":
		msg, err := bytesParam(params, 0)
		if err != nil {
			return nil, err
		}
		if err := p.checkAccount(params, 1); err != nil {
			return nil, err
		}
		if err := p.prompt(); err != nil {
			return nil, err
		}
		sig, err := eth.SignPersonal(p.signer, msg)
		if err != nil {
			return nil, err
		}
		return json.Marshal(hexutil.Bytes(sig))

	case "eth_signTypedData_v4":
		if err := p.checkAccount(params, 0); err != nil {
			return nil, err
		}
		td, err := typedDataParam(params, 1)
		if err != nil {
			return nil, err
		}
		if err := p.prompt(); err != nil {
			return nil, err
		}
		hash, err := eth.TypedDataHash(td)
		if err != nil {
			return nil, err
		}
		sig, err := p.signer.Sign(hash)
		if err != nil {
			return nil, err
		}
		return json.Marshal(hexutil.Bytes(sig))

	case "wallet_signAuthorization":
		p.mu.Lock()
		noDirect := p.noDirect
		p.mu.Unlock()
		if noDirect {
			return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedMethod, method)
		}
		if err := p.checkAccount(params, 0); err != nil {
			return nil, err
		}
		var req AuthorizationRequest
		if err := decodeParam(params, 1, &req); err != nil {
			return nil, err
		}
		if req.ChainID == nil {
			return nil, fmt.Errorf("authorization request has no chainId")
		}
		if err := p.prompt(); err != nil {
			return nil, err
		}
		hash, err := eth.AuthorityHash(req.ChainID.ToInt(), req.Address, uint64(req.Nonce))
		if err != nil {
			return nil, err
		}
		sig, err := p.signer.Sign(hash)
		if err != nil {
			return nil, err
		}
		return json.Marshal(hexutil.Bytes(sig))
	}
	return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedMethod, method)
}

func (p *LocalProvider) prompt() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rejecting {
		return core.ErrUserRejected
	}
	return nil
}

func (p *LocalProvider) checkAccount(params []any, i int) error {
	addr, err := addressParam(params, i)
	if err != nil {
		return err
	}
	if addr != p.signer.Address() {
		return fmt.Errorf("unknown account %s", addr.Hex())
	}
	return nil
}

func decodeParam(params []any, i int, out any) error {
	if i >= len(params) {
		return fmt.Errorf("missing parameter %d", i)
	}
	var raw []byte
	switch v := params[i].(type) {
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("invalid parameter %d: %w", i, err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid parameter %d: %w", i, err)
	}
	return nil
}

func addressParam(params []any, i int) (common.Address, error) {
	if i < len(params) {
		if addr, ok := params[i].(common.Address); ok {
			return addr, nil
		}
	}
	var s string
	if err := decodeParam(params, i, &s); err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", core.ErrInvalidAddress, s)
	}
	return common.HexToAddress(s), nil
}

func bytesParam(params []any, i int) ([]byte, error) {
	if i < len(params) {
		if b, ok := params[i].([]byte); ok {
			return b, nil
		}
	}
	var s string
	if err := decodeParam(params, i, &s); err != nil {
		return nil, err
	}
	if b, err := hexutil.Decode(s); err == nil {
		return b, nil
	}
	return []byte(s), nil
}

// typedDataParam accepts the typed data either as a JSON string, as
// eth_signTypedData_v4 specifies, or as a structured value.
func typedDataParam(params []any, i int) (apitypes.TypedData, error) {
	var td apitypes.TypedData
	if i >= len(params) {
		return td, fmt.Errorf("missing parameter %d", i)
	}
	if s, ok := params[i].(string); ok {
		if err := json.Unmarshal([]byte(s), &td); err != nil {
			return td, fmt.Errorf("invalid typed data: %w", err)
		}
		return td, nil
	}
	err := decodeParam(params, i, &td)
	return td, err
}
