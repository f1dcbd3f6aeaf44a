package lending

import (
	"context"
	"fmt"
	"math/big"
	"sort"
)

// SupplyDetail is one supplied asset inside a position summary.
type SupplyDetail struct {
	MarketID       string
	AssetSymbol    string
	SuppliedAmount *big.Int
	SuppliedShares *big.Int
	Value          *big.Int
	SupplyRateBps  uint64
	IsCollateral   bool
}

// BorrowDetail is one borrowed asset inside a position summary.
type BorrowDetail struct {
	MarketID        string
	AssetSymbol     string
	BorrowedAmount  *big.Int
	AccruedInterest *big.Int
	Value           *big.Int
	RateBps         uint64
	RateMode        RateMode
}

// PositionSummary is the full per-user view: the cached aggregates plus the
// per-asset breakdown, remaining borrow capacity, and the net APY across the
// whole position.
type PositionSummary struct {
	UserAddress          string
	TotalSuppliedValue   *big.Int
	TotalCollateralValue *big.Int
	TotalBorrowedValue   *big.Int
	HealthFactorBps      uint64
	HealthStatus         HealthStatus
	BorrowCapacity       *big.Int
	NetAPYBps            int64
	Supplies             []SupplyDetail
	Borrows              []BorrowDetail
}

// Stats is the protocol-wide aggregate view.
type Stats struct {
	TotalValueLocked   *big.Int
	TotalBorrowedValue *big.Int
	TotalReservesValue *big.Int
	MarketCount        int
	ActiveMarketCount  int
	UserCount          int
	AtRiskCount        int
	LiquidatableCount  int
	AvgSupplyRateBps   uint64
	AvgBorrowRateBps   uint64
}

// GetPosition builds the position summary for a user from the authoritative
// ledger rows. Users with no rows get ErrNotFound.
func (e *Engine) GetPosition(ctx context.Context, user string) (*PositionSummary, error) {
	view, err := e.portfolio(ctx, user)
	if err != nil {
		return nil, err
	}
	if len(view.Supplies) == 0 && len(view.Borrows) == 0 {
		return nil, fmt.Errorf("%w: position for %s", ErrNotFound, user)
	}

	summary := &PositionSummary{
		UserAddress:          user,
		TotalSuppliedValue:   big.NewInt(0),
		TotalCollateralValue: view.CollateralValue(),
		TotalBorrowedValue:   view.BorrowedValue(),
		HealthFactorBps:      view.HealthFactorBps(),
		BorrowCapacity:       view.BorrowCapacity(),
	}
	summary.HealthStatus = HealthStatusFor(summary.HealthFactorBps)

	supplyYield := big.NewInt(0)
	for _, s := range view.Supplies {
		market := view.Markets[s.MarketID]
		value := valueOf(s.SuppliedAmount, view.Prices[s.MarketID])
		summary.TotalSuppliedValue.Add(summary.TotalSuppliedValue, value)
		supplyYield.Add(supplyYield, bpsShare(value, market.SupplyRateBps))
		summary.Supplies = append(summary.Supplies, SupplyDetail{
			MarketID:       s.MarketID,
			AssetSymbol:    market.AssetSymbol,
			SuppliedAmount: copyBig(s.SuppliedAmount),
			SuppliedShares: copyBig(s.SuppliedShares),
			Value:          value,
			SupplyRateBps:  market.SupplyRateBps,
			IsCollateral:   s.IsCollateral,
		})
	}
	borrowCost := big.NewInt(0)
	for _, b := range view.Borrows {
		market := view.Markets[b.MarketID]
		rate := market.BorrowRateVariableBps
		if b.RateMode == RateModeStable {
			rate = market.BorrowRateStableBps
		}
		value := valueOf(b.BorrowedAmount, view.Prices[b.MarketID])
		borrowCost.Add(borrowCost, bpsShare(value, rate))
		summary.Borrows = append(summary.Borrows, BorrowDetail{
			MarketID:        b.MarketID,
			AssetSymbol:     market.AssetSymbol,
			BorrowedAmount:  copyBig(b.BorrowedAmount),
			AccruedInterest: copyBig(b.AccruedInterest),
			Value:           value,
			RateBps:         rate,
			RateMode:        b.RateMode,
		})
	}
	summary.NetAPYBps = netAPYBps(supplyYield, borrowCost, summary.TotalSuppliedValue)
	sort.Slice(summary.Supplies, func(i, j int) bool { return summary.Supplies[i].MarketID < summary.Supplies[j].MarketID })
	sort.Slice(summary.Borrows, func(i, j int) bool { return summary.Borrows[i].MarketID < summary.Borrows[j].MarketID })
	return summary, nil
}

// netAPYBps nets the yearly supply yield against the yearly borrow cost,
// expressed in basis points of the total supplied value.
func netAPYBps(supplyYield, borrowCost, suppliedValue *big.Int) int64 {
	if suppliedValue == nil || suppliedValue.Sign() == 0 {
		return 0
	}
	net := new(big.Int).Sub(supplyYield, borrowCost)
	net.Mul(net, basisPoints)
	net.Quo(net, suppliedValue)
	if !net.IsInt64() {
		return 0
	}
	return net.Int64()
}

// GetStats aggregates protocol-wide totals across all markets and cached
// positions. Values are priced at the current oracle quotes.
func (e *Engine) GetStats(ctx context.Context) (*Stats, error) {
	markets, err := e.ListMarkets(ctx, false)
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		TotalValueLocked:   big.NewInt(0),
		TotalBorrowedValue: big.NewInt(0),
		TotalReservesValue: big.NewInt(0),
		MarketCount:        len(markets),
	}
	var supplySum, borrowSum uint64
	for _, m := range markets {
		price, err := e.price(ctx, m)
		if err != nil {
			return nil, err
		}
		stats.TotalValueLocked.Add(stats.TotalValueLocked, valueOf(m.TotalSupply, price))
		stats.TotalBorrowedValue.Add(stats.TotalBorrowedValue, valueOf(m.TotalBorrowed, price))
		stats.TotalReservesValue.Add(stats.TotalReservesValue, valueOf(m.Reserves, price))
		if m.Status == MarketActive {
			stats.ActiveMarketCount++
		}
		supplySum += m.SupplyRateBps
		borrowSum += m.BorrowRateVariableBps
	}
	if len(markets) > 0 {
		stats.AvgSupplyRateBps = supplySum / uint64(len(markets))
		stats.AvgBorrowRateBps = borrowSum / uint64(len(markets))
	}
	positions, err := e.state.ListPositions()
	if err != nil {
		return nil, err
	}
	stats.UserCount = len(positions)
	for _, p := range positions {
		switch p.HealthStatus {
		case StatusAtRisk:
			stats.AtRiskCount++
		case StatusLiquidatable:
			stats.LiquidatableCount++
		}
	}
	return stats, nil
}

// RecentTransactions returns up to limit journal entries, oldest first.
func (e *Engine) RecentTransactions(_ context.Context, limit int) ([]*Transaction, error) {
	return e.state.RecentTransactions(limit)
}

// RecentLiquidations returns up to limit liquidation records, oldest first.
func (e *Engine) RecentLiquidations(_ context.Context, limit int) ([]*LiquidationRecord, error) {
	return e.state.RecentLiquidations(limit)
}

// RateHistory returns up to limit rate samples for a market, oldest first.
func (e *Engine) RateHistory(_ context.Context, marketID string, limit int) ([]*RatePoint, error) {
	if _, err := e.market(marketID); err != nil {
		return nil, err
	}
	return e.state.RateHistory(marketID, limit)
}

// LiquidatablePositions lists cached positions below the liquidation floor,
// worst health first.
func (e *Engine) LiquidatablePositions(_ context.Context) ([]*Position, error) {
	return e.positionsByStatus(StatusLiquidatable)
}

// AtRiskPositions lists cached positions inside the warning band, worst
// health first.
func (e *Engine) AtRiskPositions(_ context.Context) ([]*Position, error) {
	return e.positionsByStatus(StatusAtRisk)
}

func (e *Engine) positionsByStatus(status HealthStatus) ([]*Position, error) {
	positions, err := e.state.ListPositions()
	if err != nil {
		return nil, err
	}
	out := positions[:0]
	for _, p := range positions {
		if p.HealthStatus == status {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HealthFactorBps != out[j].HealthFactorBps {
			return out[i].HealthFactorBps < out[j].HealthFactorBps
		}
		return out[i].UserAddress < out[j].UserAddress
	})
	return out, nil
}
