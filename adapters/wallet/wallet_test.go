package wallet

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/internal/eth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sepolia  = big.NewInt(11155111)
	contract = common.HexToAddress("0x29e26275177A5DD5cc92bE0dF2700D1BE2F9D6BE")
)

type fixedNonce uint64

func (n fixedNonce) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(n), nil
}

func newLocal(t *testing.T) *LocalProvider {
	t.Helper()
	signer, err := eth.GenerateSigner()
	require.NoError(t, err)
	return NewLocalProvider(signer, sepolia, fixedNonce(7))
}

func decodeSig(t *testing.T, raw json.RawMessage) []byte {
	t.Helper()
	var sig hexutil.Bytes
	require.NoError(t, json.Unmarshal(raw, &sig))
	require.Len(t, sig, 65)
	return sig
}

func TestRegistryAnnounceOrder(t *testing.T) {
	r := NewRegistry()
	var seen []string
	unsubscribe := r.Subscribe(func(info core.ProviderInfo) { seen = append(seen, info.Name) })

	a := r.Announce(core.ProviderInfo{Name: "MetaMask", RDNS: "io.metamask"}, newLocal(t))
	b := r.Announce(core.ProviderInfo{UUID: "ambire-1", Name: "Ambire", RDNS: "com.ambire"}, newLocal(t))
	require.NotEmpty(t, a.UUID)
	assert.Equal(t, "ambire-1", b.UUID)

	r.Announce(core.ProviderInfo{UUID: "ambire-1", Name: "Ambire Wallet", RDNS: "com.ambire"}, newLocal(t))
	unsubscribe()
	unsubscribe()
	r.Announce(core.ProviderInfo{Name: "Rabby"}, newLocal(t))

	infos := r.Providers()
	require.Len(t, infos, 3)
	assert.Equal(t, []string{"MetaMask", "Ambire Wallet", "Rabby"}, []string{infos[0].Name, infos[1].Name, infos[2].Name})
	assert.Equal(t, []string{"MetaMask", "Ambire", "Ambire Wallet"}, seen)

	_, ok := r.Provider("ambire-1")
	assert.True(t, ok)
	_, ok = r.Provider("missing")
	assert.False(t, ok)
}

func TestLocalProviderAccounts(t *testing.T) {
	ctx := context.Background()
	p := newLocal(t)

	raw, err := p.Request(ctx, "eth_accounts")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))

	raw, err = p.Request(ctx, "eth_requestAccounts")
	require.NoError(t, err)
	var accounts []common.Address
	require.NoError(t, json.Unmarshal(raw, &accounts))
	assert.Equal(t, []common.Address{p.Address()}, accounts)

	raw, err = p.Request(ctx, "eth_accounts")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &accounts))
	assert.Equal(t, []common.Address{p.Address()}, accounts)

	raw, err = p.Request(ctx, "eth_chainId")
	require.NoError(t, err)
	assert.Equal(t, `"0xaa36a7"`, string(raw))

	raw, err = p.Request(ctx, "eth_getTransactionCount", p.Address().Hex(), "pending")
	require.NoError(t, err)
	assert.Equal(t, `"0x7"`, string(raw))
}

func TestLocalProviderRejects(t *testing.T) {
	ctx := context.Background()
	p := newLocal(t)
	p.SetRejecting(true)

	_, err := p.Request(ctx, "eth_requestAccounts")
	assert.ErrorIs(t, err, core.ErrUserRejected)
	_, err = p.Request(ctx, "personal_sign", "0x68656c6c6f", p.Address().Hex())
	assert.ErrorIs(t, err, core.ErrUserRejected)

	_, err = p.Request(ctx, "eth_sendTransaction")
	assert.ErrorIs(t, err, core.ErrUnsupportedMethod)
}

func TestLocalProviderPersonalSign(t *testing.T) {
	p := newLocal(t)
	raw, err := p.Request(context.Background(), "personal_sign", "0x68656c6c6f", p.Address().Hex())
	require.NoError(t, err)

	addr, err := eth.RecoverPersonal([]byte("hello"), decodeSig(t, raw))
	require.NoError(t, err)
	assert.Equal(t, p.Address(), addr)

	_, err = p.Request(context.Background(), "personal_sign", "0x68656c6c6f", contract.Hex())
	assert.Error(t, err, "foreign account")
}

func TestLocalProviderTypedData(t *testing.T) {
	p := newLocal(t)
	td := eth.AuthorizationTypedData(sepolia, contract, 7)
	payload, err := json.Marshal(td)
	require.NoError(t, err)

	raw, err := p.Request(context.Background(), "eth_signTypedData_v4", p.Address().Hex(), string(payload))
	require.NoError(t, err)

	auth := core.Authorization{ChainID: sepolia, Address: contract, Nonce: 7, Scheme: core.SchemeEIP712, Signature: decodeSig(t, raw)}
	ok, err := eth.VerifySignatureAgainstAddress(auth, p.Address())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalProviderSignAuthorization(t *testing.T) {
	ctx := context.Background()
	p := newLocal(t)
	req := AuthorizationRequest{ChainID: (*hexutil.Big)(sepolia), Address: contract, Nonce: 3}

	raw, err := p.Request(ctx, "wallet_signAuthorization", p.Address(), req)
	require.NoError(t, err)
	auth := core.Authorization{ChainID: sepolia, Address: contract, Nonce: 3, Scheme: core.SchemeEIP7702, Signature: decodeSig(t, raw)}
	ok, err := eth.VerifySignatureAgainstAddress(auth, p.Address())
	require.NoError(t, err)
	assert.True(t, ok)

	p.DisableDirectAuthorization(true)
	_, err = p.Request(ctx, "wallet_signAuthorization", p.Address(), req)
	assert.ErrorIs(t, err, core.ErrUnsupportedMethod)
}

func TestLocalProviderEvents(t *testing.T) {
	p := newLocal(t)
	var events []core.ProviderEvent
	unsubscribe := p.Subscribe(func(ev core.ProviderEvent) { events = append(events, ev) })

	p.SwitchChain(big.NewInt(1))
	p.Revoke()
	unsubscribe()
	p.SwitchChain(big.NewInt(5))

	require.Len(t, events, 2)
	assert.Equal(t, core.EventChainChanged, events[0].Type)
	assert.Equal(t, int64(1), events[0].ChainID.Int64())
	assert.Equal(t, core.EventAccountsChanged, events[1].Type)
	assert.Empty(t, events[1].Accounts)
}

type rejection struct{}

func (rejection) Error() string  { return "User rejected the request." }
func (rejection) ErrorCode() int { return 4001 }

type ethService struct{}

func (ethService) ChainId() *hexutil.Big { return (*hexutil.Big)(sepolia) }

func (ethService) RequestAccounts() ([]common.Address, error) { return nil, rejection{} }

func TestRPCProvider(t *testing.T) {
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", ethService{}))
	defer server.Stop()

	p := NewRPCProvider(rpc.DialInProc(server))
	ctx := context.Background()

	raw, err := p.Request(ctx, "eth_chainId")
	require.NoError(t, err)
	assert.Equal(t, `"0xaa36a7"`, string(raw))

	_, err = p.Request(ctx, "eth_requestAccounts")
	assert.ErrorIs(t, err, core.ErrUserRejected)

	_, err = p.Request(ctx, "wallet_signAuthorization")
	assert.ErrorIs(t, err, core.ErrUnsupportedMethod)

	var disconnected int
	p.Subscribe(func(ev core.ProviderEvent) {
		if ev.Type == core.EventDisconnect {
			disconnected++
		}
	})
	p.Close()
	p.Close()
	assert.Equal(t, 1, disconnected)
}
