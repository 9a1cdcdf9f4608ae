package core

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultSessionExpiry is how long a delegated session key stays usable.
const DefaultSessionExpiry = time.Hour

// AuthorizationScheme names the digest the delegating account signed.
type AuthorizationScheme string

const (
	// SchemeEIP7702 is keccak256(0x05 || rlp([chainId, address, nonce])), signed directly.
	SchemeEIP7702 AuthorizationScheme = "eip7702"

	// SchemeEIP712 is the typed-data fallback over the same three fields.
	SchemeEIP712 AuthorizationScheme = "eip712"
)

// Authorization is the delegation proof obtained from the connected wallet.
type Authorization struct {
	ChainID   *big.Int
	Address   common.Address // contract being authorized
	Nonce     uint64
	Signature []byte // 65 bytes, V in {27,28}
	Scheme    AuthorizationScheme
}

// Pack encodes the authorization as chainId(32) | address(20) | nonce(8) | signature.
func (a Authorization) Pack() string {
	buf := make([]byte, 0, 32+20+8+len(a.Signature))
	chainID := a.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	buf = append(buf, common.LeftPadBytes(chainID.Bytes(), 32)...)
	buf = append(buf, a.Address.Bytes()...)
	var nonce [8]byte
	for i := 0; i < 8; i++ {
		nonce[7-i] = byte(a.Nonce >> (8 * i))
	}
	buf = append(buf, nonce[:]...)
	buf = append(buf, a.Signature...)
	return "0x" + hex.EncodeToString(buf)
}

// Session is an ephemeral key delegated by Account to act on Contract.
type Session struct {
	Key           *ecdsa.PrivateKey
	Account       common.Address
	Contract      common.Address
	ChainID       *big.Int
	Nonce         uint64
	Authorization Authorization
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Address returns the ephemeral key's address.
func (s *Session) Address() common.Address {
	if s == nil || s.Key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(s.Key.PublicKey)
}

// ActiveAt reports whether the session can sign at t.
func (s *Session) ActiveAt(t time.Time) bool {
	if s == nil || s.Key == nil || len(s.Authorization.Signature) == 0 {
		return false
	}
	return t.Before(s.ExpiresAt)
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s for %s on %s", s.Address().Hex(), s.Account.Hex(), s.Contract.Hex())
}

// SessionStatus is a read-only snapshot of the manager's state.
type SessionStatus struct {
	Active         bool           `json:"active"`
	SessionAddress common.Address `json:"session_address"`
	Account        common.Address `json:"account"`
	Contract       common.Address `json:"contract"`
	ChainID        string         `json:"chain_id,omitempty"`
	Authorization  string         `json:"authorization,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// ClearReason explains why a session was destroyed.
type ClearReason string

const (
	ClearExplicit   ClearReason = "explicit"
	ClearExpired    ClearReason = "expired"
	ClearDisconnect ClearReason = "disconnect"
	ClearCorrupt    ClearReason = "corrupt"
	ClearReplaced   ClearReason = "replaced"
)

// SessionEvent is published on session lifecycle transitions.
type SessionEvent struct {
	Type           string      `json:"type"` // created | cleared
	Account        string      `json:"account"`
	Contract       string      `json:"contract"`
	SessionAddress string      `json:"session_address"`
	Reason         ClearReason `json:"reason,omitempty"`
	ExpiresAt      time.Time   `json:"expires_at,omitempty"`
}

// SessionGrant is what an API bearer token asserts about a session.
type SessionGrant struct {
	ID         string
	Account    common.Address
	SessionKey common.Address
	Contract   common.Address
	IssuedAt   time.Time
	ExpiresAt  time.Time
}
