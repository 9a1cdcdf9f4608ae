package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/onerecurr/core"
	"github.com/layer-3/onerecurr/internal/contracts"
	"github.com/layer-3/onerecurr/ports"
	"github.com/sirupsen/logrus"
)

// PriceCheckService talks to a deployed PriceCheckHook. Without a contract
// address it evaluates prices locally against its default thresholds.
type PriceCheckService struct {
	client  ports.ChainClient
	address common.Address
	log     logrus.FieldLogger

	mu    sync.RWMutex
	local core.PriceThresholds
}

func NewPriceCheckService(client ports.ChainClient, address common.Address, log logrus.FieldLogger) *PriceCheckService {
	return &PriceCheckService{
		client:  client,
		address: address,
		local:   core.DefaultThresholds(),
		log:     componentLogger(log, "price"),
	}
}

func (s *PriceCheckService) deployed() bool {
	return s.client != nil && s.address != (common.Address{})
}

// Thresholds returns the active bounds in basis points.
func (s *PriceCheckService) Thresholds(ctx context.Context) (core.PriceThresholds, error) {
	if !s.deployed() {
		return s.localThresholds(), nil
	}
	out, err := contracts.Call(ctx, s.client, contracts.PriceCheckHook, s.address, "getThresholds")
	if err != nil {
		return core.PriceThresholds{}, err
	}
	return core.PriceThresholds{
		Min: out[0].(*big.Int).Uint64(),
		Max: out[1].(*big.Int).Uint64(),
	}, nil
}

// CheckPrice reports whether proposed is within the thresholds around oracle.
func (s *PriceCheckService) CheckPrice(ctx context.Context, proposed, oracle *big.Int) (core.PriceCheck, error) {
	local := s.localThresholds()
	if !s.deployed() {
		return local.Check(proposed, oracle)
	}
	// The contract reverts on zero prices; fail the same way without a round trip.
	if _, err := local.Check(proposed, oracle); err != nil {
		return core.PriceCheck{}, err
	}
	out, err := contracts.Call(ctx, s.client, contracts.PriceCheckHook, s.address, "checkPrice", proposed, oracle)
	if err != nil {
		return core.PriceCheck{}, err
	}
	return core.PriceCheck{
		Valid:         out[0].(bool),
		MinAcceptable: out[1].(*big.Int),
		MaxAcceptable: out[2].(*big.Int),
	}, nil
}

// SetThresholds validates t locally and sends the owner-gated update. Without
// a deployed contract only the local thresholds change.
func (s *PriceCheckService) SetThresholds(ctx context.Context, signer ports.TxSigner, t core.PriceThresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if !s.deployed() {
		s.mu.Lock()
		s.local = t
		s.mu.Unlock()
		return nil
	}

	data, err := contracts.PriceCheckHook.Pack("setThresholds", new(big.Int).SetUint64(t.Min), new(big.Int).SetUint64(t.Max))
	if err != nil {
		return fmt.Errorf("failed to pack setThresholds: %w", err)
	}
	receipt, err := transact(ctx, s.client, signer, s.address, data)
	if err != nil {
		return err
	}

	for _, log := range receipt.Logs {
		if ev, ok, _ := contracts.ParseThresholdsUpdated(log); ok {
			s.log.WithFields(logrus.Fields{
				"old_min": ev.OldMin.String(),
				"old_max": ev.OldMax.String(),
				"new_min": ev.NewMin.String(),
				"new_max": ev.NewMax.String(),
				"by":      ev.UpdatedBy.Hex(),
			}).Info("price thresholds updated")
		}
	}
	return nil
}

// ValidateSwapPrice runs the state-changing validation on the contract and
// returns the verdict from its PriceValidated event. Without a deployed
// contract it evaluates locally.
func (s *PriceCheckService) ValidateSwapPrice(ctx context.Context, signer ports.TxSigner, proposed, oracle *big.Int) (bool, error) {
	res, err := s.localThresholds().Check(proposed, oracle)
	if err != nil {
		return false, err
	}
	if !s.deployed() {
		return res.Valid, nil
	}

	data, err := contracts.PriceCheckHook.Pack("validateSwapPrice", proposed, oracle)
	if err != nil {
		return false, fmt.Errorf("failed to pack validateSwapPrice: %w", err)
	}
	receipt, err := transact(ctx, s.client, signer, s.address, data)
	if err != nil {
		return false, err
	}
	for _, log := range receipt.Logs {
		if log.Address != s.address {
			continue
		}
		ev, ok, err := contracts.ParsePriceValidated(log)
		if err != nil {
			return false, err
		}
		if ok {
			s.log.WithFields(logrus.Fields{
				"proposed": ev.Proposed.String(),
				"oracle":   ev.Oracle.String(),
				"valid":    ev.Valid,
			}).Info("swap price validated")
			return ev.Valid, nil
		}
	}
	return false, fmt.Errorf("%w: no PriceValidated event in %s", core.ErrTransactionFailed, receipt.TxHash.Hex())
}

func (s *PriceCheckService) localThresholds() core.PriceThresholds {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local
}
