package service

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/internal/contracts"
	"github.com/layer-3/onerecurr/ports"
	"github.com/sirupsen/logrus"
)

// ActionService reads and increments the ActionExecutor counter.
type ActionService struct {
	client  ports.ChainClient
	address common.Address
	log     logrus.FieldLogger
}

func NewActionService(client ports.ChainClient, address common.Address, log logrus.FieldLogger) *ActionService {
	return &ActionService{client: client, address: address, log: componentLogger(log, "action")}
}

// Address returns the ActionExecutor contract address.
func (s *ActionService) Address() common.Address { return s.address }

// ActionCount returns the current counter value.
func (s *ActionService) ActionCount(ctx context.Context) (*big.Int, error) {
	out, err := contracts.Call(ctx, s.client, contracts.ActionExecutor, s.address, "actionCount")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// Owner returns the contract owner.
func (s *ActionService) Owner(ctx context.Context) (common.Address, error) {
	out, err := contracts.Call(ctx, s.client, contracts.ActionExecutor, s.address, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return out[0].(common.Address), nil
}

// PerformAction sends performAction from signer and returns the decoded
// ActionPerformed event.
func (s *ActionService) PerformAction(ctx context.Context, signer ports.TxSigner) (*core.ActionReceipt, error) {
	data, err := contracts.ActionExecutor.Pack("performAction")
	if err != nil {
		return nil, fmt.Errorf("failed to pack performAction: %w", err)
	}

	receipt, err := transact(ctx, s.client, signer, s.address, data)
	if err != nil {
		return nil, err
	}

	for _, log := range receipt.Logs {
		if log.Address != s.address {
			continue
		}
		ev, ok, err := contracts.ParseActionPerformed(log)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		s.log.WithFields(logrus.Fields{
			"tx":        receipt.TxHash.Hex(),
			"caller":    ev.Caller.Hex(),
			"new_count": ev.NewCount.String(),
		}).Info("action performed")
		return &core.ActionReceipt{
			TxHash:   receipt.TxHash,
			Caller:   ev.Caller,
			NewCount: ev.NewCount,
			Block:    receipt.BlockNumber.Uint64(),
		}, nil
	}
	return nil, fmt.Errorf("%w: no ActionPerformed event in %s", core.ErrTransactionFailed, receipt.TxHash.Hex())
}
