package eth

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer produces recoverable secp256k1 signatures over 32-byte digests.
type Signer interface {
	Address() common.Address
	Sign(hash []byte) ([]byte, error)
}

// LocalSigner signs with an in-memory private key.
type LocalSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewLocalSigner wraps key.
func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// GenerateSigner creates a signer around a fresh random key.
func GenerateSigner() (*LocalSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewLocalSigner(key), nil
}

// SignerFromHex parses a hex private key, with or without 0x prefix.
func SignerFromHex(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewLocalSigner(key), nil
}

func (s *LocalSigner) Address() common.Address { return s.addr }

func (s *LocalSigner) PrivateKey() *ecdsa.PrivateKey { return s.key }

// HexKey returns the 0x-prefixed private key.
func (s *LocalSigner) HexKey() string {
	return hexutil.Encode(crypto.FromECDSA(s.key))
}

// Sign signs hash and returns R || S || V with V in {27,28}.
func (s *LocalSigner) Sign(hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignTransaction signs tx for chainID with the latest signer rules.
func (s *LocalSigner) SignTransaction(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
