package core

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionActiveAtBoundary(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	created := time.UnixMilli(0)
	s := &Session{
		Key:           key,
		Authorization: Authorization{Signature: make([]byte, 65)},
		CreatedAt:     created,
		ExpiresAt:     created.Add(3600000 * time.Millisecond),
	}

	assert.True(t, s.ActiveAt(created))
	assert.True(t, s.ActiveAt(time.UnixMilli(3599999)))
	assert.False(t, s.ActiveAt(time.UnixMilli(3600000)))
	assert.False(t, s.ActiveAt(time.UnixMilli(3600001)))
}

func TestSessionInactiveWithoutMaterial(t *testing.T) {
	var nilSession *Session
	assert.False(t, nilSession.ActiveAt(time.Now()))
	assert.Equal(t, common.Address{}, nilSession.Address())

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s := &Session{Key: key, ExpiresAt: time.Now().Add(time.Hour)}
	assert.False(t, s.ActiveAt(time.Now()), "no signature")
}

func TestAuthorizationPack(t *testing.T) {
	auth := Authorization{
		ChainID:   big.NewInt(11155111),
		Address:   common.HexToAddress("0x29e26275177A5DD5cc92bE0dF2700D1BE2F9D6BE"),
		Nonce:     0x0102,
		Signature: make([]byte, 65),
	}
	packed := auth.Pack()
	require.True(t, strings.HasPrefix(packed, "0x"))
	assert.Len(t, packed, 2+2*(32+20+8+65))
	assert.Equal(t, "0000000000000000000000000000000000000000000000000000000000aa36a7", packed[2:66])
	assert.Equal(t, strings.ToLower("29e26275177A5DD5cc92bE0dF2700D1BE2F9D6BE"), packed[66:106])
	assert.Equal(t, "0000000000000102", packed[106:122])
}

func TestThresholdValidation(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	assert.ErrorIs(t, PriceThresholds{Min: 0, Max: 10500}.Validate(), ErrInvalidThresholds)
	assert.ErrorIs(t, PriceThresholds{Min: 10000, Max: 9000}.Validate(), ErrInvalidThresholds)
	assert.ErrorIs(t, PriceThresholds{Min: 10000, Max: 25000}.Validate(), ErrInvalidThresholds)
	assert.NoError(t, PriceThresholds{Min: 9000, Max: 11000}.Validate())
}

func TestPriceCheck(t *testing.T) {
	ether := func(s string) *big.Int {
		return decimal.RequireFromString(s).Shift(18).BigInt()
	}
	oracle := ether("1")
	th := DefaultThresholds()

	cases := []struct {
		proposed string
		valid    bool
	}{
		{"1", true},
		{"0.95", true},
		{"1.05", true},
		{"0.94", false},
		{"1.06", false},
		{"1.1", false},
	}
	for _, tc := range cases {
		res, err := th.Check(ether(tc.proposed), oracle)
		require.NoError(t, err)
		assert.Equal(t, tc.valid, res.Valid, tc.proposed)
		assert.Equal(t, ether("0.95"), res.MinAcceptable)
		assert.Equal(t, ether("1.05"), res.MaxAcceptable)
	}

	res, err := th.Check(big.NewInt(950), big.NewInt(1000))
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = PriceThresholds{Min: 9000, Max: 11000}.Check(ether("0.93"), oracle)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	_, err = th.Check(big.NewInt(0), oracle)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = th.Check(oracle, big.NewInt(0))
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestChannelJSONAndClone(t *testing.T) {
	c := EmptyChannel()
	c.Open = true
	c.Balance = decimal.RequireFromString("10")
	c.History = append(c.History, Tip{ID: "a", Amount: decimal.NewFromInt(1), Status: TipConfirmed})

	raw, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"balance":"10.00"`)
	assert.Contains(t, string(raw), `"is_open":true`)

	clone := c.Clone()
	clone.History[0].ID = "b"
	assert.Equal(t, "a", c.History[0].ID)
}
