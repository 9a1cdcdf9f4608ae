package core

import (
	"fmt"
	"math/big"
)

const (
	// BasisPoints is 100%.
	BasisPoints = 10000

	DefaultMinThreshold = 9500
	DefaultMaxThreshold = 10500

	// MaxThresholdCap bounds the upper threshold at 200%.
	MaxThresholdCap = 20000
)

// PriceThresholds are the accepted deviation bounds in basis points.
type PriceThresholds struct {
	Min uint64 `json:"min"`
	Max uint64 `json:"max"`
}

// DefaultThresholds returns the 95%-105% band.
func DefaultThresholds() PriceThresholds {
	return PriceThresholds{Min: DefaultMinThreshold, Max: DefaultMaxThreshold}
}

// Validate applies the same rules the checker contract enforces.
func (t PriceThresholds) Validate() error {
	switch {
	case t.Min == 0:
		return fmt.Errorf("%w: min threshold must be > 0", ErrInvalidThresholds)
	case t.Max <= t.Min:
		return fmt.Errorf("%w: max must be > min", ErrInvalidThresholds)
	case t.Max > MaxThresholdCap:
		return fmt.Errorf("%w: max threshold too high", ErrInvalidThresholds)
	}
	return nil
}

// PriceCheck is the result of comparing a proposed price to an oracle price.
type PriceCheck struct {
	Valid         bool     `json:"valid"`
	MinAcceptable *big.Int `json:"min_acceptable"`
	MaxAcceptable *big.Int `json:"max_acceptable"`
}

// Check reports whether proposed lies within [oracle*Min, oracle*Max] / BasisPoints.
func (t PriceThresholds) Check(proposed, oracle *big.Int) (PriceCheck, error) {
	if proposed == nil || proposed.Sign() <= 0 {
		return PriceCheck{}, fmt.Errorf("%w: proposed price must be > 0", ErrInvalidPrice)
	}
	if oracle == nil || oracle.Sign() <= 0 {
		return PriceCheck{}, fmt.Errorf("%w: oracle price must be > 0", ErrInvalidPrice)
	}
	bps := big.NewInt(BasisPoints)
	lo := new(big.Int).Mul(oracle, new(big.Int).SetUint64(t.Min))
	lo.Quo(lo, bps)
	hi := new(big.Int).Mul(oracle, new(big.Int).SetUint64(t.Max))
	hi.Quo(hi, bps)

	return PriceCheck{
		Valid:         proposed.Cmp(lo) >= 0 && proposed.Cmp(hi) <= 0,
		MinAcceptable: lo,
		MaxAcceptable: hi,
	}, nil
}
