package lending

import "math/big"

// MaxHealthFactorBps is the sentinel health factor for positions with no
// outstanding debt.
const MaxHealthFactorBps = 100 * BasisPointsMax

// MinHealthFactorBps is the liquidation floor: positions below 1.0 are
// liquidatable.
const MinHealthFactorBps = BasisPointsMax

// WarningHealthFactorBps marks the at-risk band above the liquidation floor.
const WarningHealthFactorBps = 12_500

// Portfolio is a read-only snapshot of one user's ledger rows together with
// the market parameters and oracle prices needed to value them. Prices are
// keyed by market id and WAD-scaled.
//
// Every derived figure is recomputed from scratch over this snapshot rather
// than patched incrementally; the cached Position row can drift, the ledger
// cannot.
type Portfolio struct {
	Supplies []*Supply
	Borrows  []*Borrow
	Markets  map[string]*Market
	Prices   map[string]*big.Int
}

// CollateralValue sums the priced value of all collateral-flagged supplies.
func (p Portfolio) CollateralValue() *big.Int {
	total := big.NewInt(0)
	for _, s := range p.Supplies {
		if !s.IsCollateral {
			continue
		}
		total.Add(total, valueOf(s.SuppliedAmount, p.Prices[s.MarketID]))
	}
	return total
}

// WeightedCollateral sums collateral value scaled by each market's
// liquidation threshold.
func (p Portfolio) WeightedCollateral() *big.Int {
	total := big.NewInt(0)
	for _, s := range p.Supplies {
		if !s.IsCollateral {
			continue
		}
		market := p.Markets[s.MarketID]
		if market == nil {
			continue
		}
		value := valueOf(s.SuppliedAmount, p.Prices[s.MarketID])
		total.Add(total, bpsShare(value, market.LiquidationThresholdBps))
	}
	return total
}

// BorrowedValue sums the priced value of all outstanding borrows.
func (p Portfolio) BorrowedValue() *big.Int {
	total := big.NewInt(0)
	for _, b := range p.Borrows {
		total.Add(total, valueOf(b.BorrowedAmount, p.Prices[b.MarketID]))
	}
	return total
}

// HealthFactorBps is weighted collateral over borrowed value in basis
// points, or the debt-free sentinel.
func (p Portfolio) HealthFactorBps() uint64 {
	return healthFactorBps(p.WeightedCollateral(), p.BorrowedValue())
}

// BorrowCapacity is the remaining value a user may borrow: collateral value
// scaled by each market's collateral factor, minus current borrowed value,
// floored at zero.
func (p Portfolio) BorrowCapacity() *big.Int {
	capacity := big.NewInt(0)
	for _, s := range p.Supplies {
		if !s.IsCollateral {
			continue
		}
		market := p.Markets[s.MarketID]
		if market == nil {
			continue
		}
		value := valueOf(s.SuppliedAmount, p.Prices[s.MarketID])
		capacity.Add(capacity, bpsShare(value, market.CollateralFactorBps))
	}
	capacity.Sub(capacity, p.BorrowedValue())
	return clampZero(capacity)
}

func healthFactorBps(weightedCollateral, borrowedValue *big.Int) uint64 {
	if borrowedValue == nil || borrowedValue.Sign() == 0 {
		return MaxHealthFactorBps
	}
	hf := mulDiv(weightedCollateral, basisPoints, borrowedValue)
	if !hf.IsUint64() {
		return MaxHealthFactorBps
	}
	if v := hf.Uint64(); v < MaxHealthFactorBps {
		return v
	}
	return MaxHealthFactorBps
}

// HealthStatusFor classifies a health factor against the liquidation and
// warning thresholds.
func HealthStatusFor(healthFactorBps uint64) HealthStatus {
	switch {
	case healthFactorBps < MinHealthFactorBps:
		return StatusLiquidatable
	case healthFactorBps < WarningHealthFactorBps:
		return StatusAtRisk
	default:
		return StatusHealthy
	}
}
