package lending

// The borrow rate follows a two-slope ("kinked") curve over utilization:
// below the optimal point the rate climbs gently to encourage borrowing,
// above it the second slope climbs steeply to pull utilization back down.
// All parameters and results are basis points, so the largest intermediate
// product is bounded by 10^12 and fits comfortably in uint64.

// BorrowRateBps derives the variable borrow rate for utilization u on the
// given market's curve parameters.
func BorrowRateBps(m *Market, u uint64) uint64 {
	if m == nil {
		return 0
	}
	if u > BasisPointsMax {
		u = BasisPointsMax
	}
	optimal := m.OptimalUtilizationBps
	if optimal == 0 || optimal > BasisPointsMax {
		optimal = BasisPointsMax
	}
	if u <= optimal {
		return m.BaseRateBps + m.Slope1Bps*u/optimal
	}
	excess := u - optimal
	span := uint64(BasisPointsMax) - optimal
	if span == 0 {
		return m.BaseRateBps + m.Slope1Bps
	}
	return m.BaseRateBps + m.Slope1Bps + m.Slope2Bps*excess/span
}

// SupplyRateBps derives the supplier rate from the borrow rate, utilization,
// and the reserve factor: borrowers pay on the utilized share, the protocol
// keeps the reserve cut, suppliers earn the rest. Floor division.
func SupplyRateBps(borrowRateBps, u, reserveFactorBps uint64) uint64 {
	if u > BasisPointsMax {
		u = BasisPointsMax
	}
	if reserveFactorBps > BasisPointsMax {
		reserveFactorBps = BasisPointsMax
	}
	return borrowRateBps * u * (BasisPointsMax - reserveFactorBps) / (BasisPointsMax * BasisPointsMax)
}

// refreshRates recomputes the derived rate fields on the market from its
// current aggregates. It mutates the market in place; callers persist it.
func refreshRates(m *Market) {
	if m == nil {
		return
	}
	u := utilizationBps(m.TotalBorrowed, m.TotalSupply)
	variable := BorrowRateBps(m, u)
	m.UtilizationBps = u
	m.BorrowRateVariableBps = variable
	m.BorrowRateStableBps = variable + m.StableRatePremiumBps
	m.SupplyRateBps = SupplyRateBps(variable, u, m.ReserveFactorBps)
}

// ratePoint samples the market's current rates for the history log.
func ratePoint(m *Market) *RatePoint {
	return &RatePoint{
		MarketID:              m.ID,
		SupplyRateBps:         m.SupplyRateBps,
		BorrowRateVariableBps: m.BorrowRateVariableBps,
		BorrowRateStableBps:   m.BorrowRateStableBps,
		UtilizationBps:        m.UtilizationBps,
		TotalSupply:           copyBig(m.TotalSupply),
		TotalBorrowed:         copyBig(m.TotalBorrowed),
	}
}
