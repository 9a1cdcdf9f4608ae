package eth

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/onerecurr/core"
)

const (
	AuthorizationDomainName    = "EIP-7702 Authorization"
	AuthorizationDomainVersion = "1"

	// setCodeMagic prefixes the EIP-7702 authority digest.
	setCodeMagic = 0x05
)

// AuthorizationTypedData builds the EIP-712 payload binding (chainId, contract, nonce).
func AuthorizationTypedData(chainID *big.Int, contract common.Address, nonce uint64) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Authorization": {
				{Name: "chainId", Type: "uint256"},
				{Name: "address", Type: "address"},
				{Name: "nonce", Type: "uint64"},
			},
		},
		PrimaryType: "Authorization",
		Domain: apitypes.TypedDataDomain{
			Name:    AuthorizationDomainName,
			Version: AuthorizationDomainVersion,
			ChainId: (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
		},
		Message: apitypes.TypedDataMessage{
			"chainId": chainID.String(),
			"address": contract.Hex(),
			"nonce":   strconv.FormatUint(nonce, 10),
		},
	}
}

// TypedDataHash returns the EIP-712 digest of td.
func TypedDataHash(td apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return hash, nil
}

// AuthorityHash is the EIP-7702 digest keccak256(0x05 || rlp([chainId, address, nonce])).
func AuthorityHash(chainID *big.Int, contract common.Address, nonce uint64) ([]byte, error) {
	enc, err := rlp.EncodeToBytes([]any{chainID, contract, nonce})
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256([]byte{setCodeMagic}, enc), nil
}

// AuthorizationDigest returns the digest the wallet signed under auth.Scheme.
func AuthorizationDigest(auth core.Authorization) ([]byte, error) {
	if auth.ChainID == nil {
		return nil, fmt.Errorf("authorization has no chain id")
	}
	switch auth.Scheme {
	case core.SchemeEIP7702:
		return AuthorityHash(auth.ChainID, auth.Address, auth.Nonce)
	case core.SchemeEIP712, "":
		return TypedDataHash(AuthorizationTypedData(auth.ChainID, auth.Address, auth.Nonce))
	default:
		return nil, fmt.Errorf("unknown authorization scheme %q", auth.Scheme)
	}
}

// RecoverAuthorization returns the account that signed auth.
func RecoverAuthorization(auth core.Authorization) (common.Address, error) {
	digest, err := AuthorizationDigest(auth)
	if err != nil {
		return common.Address{}, err
	}
	return Recover(digest, auth.Signature)
}

// VerifySignatureAgainstAddress reports whether auth was signed by expected.
func VerifySignatureAgainstAddress(auth core.Authorization, expected common.Address) (bool, error) {
	addr, err := RecoverAuthorization(auth)
	if err != nil {
		return false, err
	}
	return addr == expected, nil
}
