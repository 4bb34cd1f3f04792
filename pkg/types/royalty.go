package types

import (
	"fmt"
	"math/big"

	"github.com/sigweihq/ebookpay/pkg/constants"
)

// RoyaltySplit divides sale revenue between creator, distributor (referrer) and platform.
// PlatformPct is fixed by policy; CreatorPct + DistributorPct + PlatformPct == 100.
type RoyaltySplit struct {
	CreatorPct     int `json:"creatorPct"`
	DistributorPct int `json:"distributorPct"`
	PlatformPct    int `json:"platformPct"`
}

// NewRoyaltySplit builds a split from the creator share; the distributor receives the rest
func NewRoyaltySplit(creatorPct int) (RoyaltySplit, error) {
	if creatorPct < 0 || creatorPct > constants.MaxCreatorPct {
		return RoyaltySplit{}, fmt.Errorf("%w: creator share %d%% must be between 0 and %d", ErrInvalidSplit, creatorPct, constants.MaxCreatorPct)
	}
	return RoyaltySplit{
		CreatorPct:     creatorPct,
		DistributorPct: constants.MaxCreatorPct - creatorPct,
		PlatformPct:    constants.PlatformPct,
	}, nil
}

// DefaultRoyaltySplit is 70/15/15
func DefaultRoyaltySplit() RoyaltySplit {
	s, _ := NewRoyaltySplit(constants.DefaultCreatorPct)
	return s
}

// WithCreator adjusts the creator share and recomputes the distributor share
func (s RoyaltySplit) WithCreator(pct int) (RoyaltySplit, error) {
	return NewRoyaltySplit(pct)
}

// WithDistributor adjusts the distributor share and recomputes the creator share
func (s RoyaltySplit) WithDistributor(pct int) (RoyaltySplit, error) {
	if pct < 0 || pct > constants.MaxCreatorPct {
		return RoyaltySplit{}, fmt.Errorf("%w: distributor share %d%% must be between 0 and %d", ErrInvalidSplit, pct, constants.MaxCreatorPct)
	}
	return NewRoyaltySplit(constants.MaxCreatorPct - pct)
}

// Validate checks the sum and the fixed platform share
func (s RoyaltySplit) Validate() error {
	if s.PlatformPct != constants.PlatformPct {
		return fmt.Errorf("%w: platform share must be %d%%, got %d%%", ErrInvalidSplit, constants.PlatformPct, s.PlatformPct)
	}
	if s.CreatorPct < 0 || s.DistributorPct < 0 {
		return fmt.Errorf("%w: shares cannot be negative", ErrInvalidSplit)
	}
	if total := s.CreatorPct + s.DistributorPct + s.PlatformPct; total != 100 {
		return fmt.Errorf("%w: total must be 100%%, got %d%%", ErrInvalidSplit, total)
	}
	return nil
}

// CreatorBPS is the creator share in basis points (1 BPS = 0.01%)
func (s RoyaltySplit) CreatorBPS() *big.Int {
	return big.NewInt(int64(s.CreatorPct) * constants.BPSBase / 100)
}

// DistributorBPS is the distributor share in basis points
func (s RoyaltySplit) DistributorBPS() *big.Int {
	return big.NewInt(int64(s.DistributorPct) * constants.BPSBase / 100)
}

// SplitFromBPS rebuilds a split from on-chain author and referrer basis points
func SplitFromBPS(authorBPS, referrerBPS *big.Int) (RoyaltySplit, error) {
	if authorBPS == nil || referrerBPS == nil {
		return RoyaltySplit{}, fmt.Errorf("%w: missing basis points", ErrInvalidSplit)
	}
	perPct := big.NewInt(constants.BPSBase / 100)
	author, authorRem := new(big.Int).QuoRem(authorBPS, perPct, new(big.Int))
	referrer, referrerRem := new(big.Int).QuoRem(referrerBPS, perPct, new(big.Int))
	if authorRem.Sign() != 0 || referrerRem.Sign() != 0 {
		return RoyaltySplit{}, fmt.Errorf("%w: shares %s/%s bps are not whole percentages", ErrInvalidSplit, authorBPS, referrerBPS)
	}
	if !author.IsInt64() || !referrer.IsInt64() {
		return RoyaltySplit{}, fmt.Errorf("%w: shares out of range", ErrInvalidSplit)
	}
	s := RoyaltySplit{
		CreatorPct:     int(author.Int64()),
		DistributorPct: int(referrer.Int64()),
		PlatformPct:    constants.PlatformPct,
	}
	if err := s.Validate(); err != nil {
		return RoyaltySplit{}, err
	}
	return s, nil
}
