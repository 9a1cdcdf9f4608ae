package eth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignPersonal signs msg with the EIP-191 "Ethereum Signed Message" prefix.
func SignPersonal(s Signer, msg []byte) ([]byte, error) {
	return s.Sign(accounts.TextHash(msg))
}

// RecoverPersonal returns the address that produced sig over msg.
func RecoverPersonal(msg, sig []byte) (common.Address, error) {
	return Recover(accounts.TextHash(msg), sig)
}

// Recover returns the signer of a 65-byte signature over hash. V may be 0/1 or 27/28.
func Recover(hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
