package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ActionReceipt is the outcome of a mined performAction call.
type ActionReceipt struct {
	TxHash   common.Hash    `json:"tx_hash"`
	Caller   common.Address `json:"caller"`
	NewCount *big.Int       `json:"new_count"`
	Block    uint64         `json:"block"`
}
