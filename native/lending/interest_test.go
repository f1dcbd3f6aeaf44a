package lending

import (
	"math/big"
	"testing"
)

func kinkedMarket() *Market {
	return &Market{
		ID:                    "asset-x",
		BaseRateBps:           200,
		OptimalUtilizationBps: 8_000,
		Slope1Bps:             400,
		Slope2Bps:             6_000,
		ReserveFactorBps:      1_000,
	}
}

func TestBorrowRateKinkedCurve(t *testing.T) {
	m := kinkedMarket()
	cases := []struct {
		utilization uint64
		want        uint64
	}{
		{0, 200},
		{4_000, 400},          // 200 + 400*4000/8000
		{8_000, 600},          // exactly at the kink
		{9_000, 3_600},        // 200 + 400 + 6000*1000/2000
		{10_000, 6_600},       // full utilization
		{15_000, 6_600},       // clamped to 100%
	}
	for _, tc := range cases {
		if got := BorrowRateBps(m, tc.utilization); got != tc.want {
			t.Errorf("BorrowRateBps(u=%d) = %d, want %d", tc.utilization, got, tc.want)
		}
	}
}

func TestBorrowRateMonotonic(t *testing.T) {
	m := kinkedMarket()
	prev := uint64(0)
	for u := uint64(0); u <= BasisPointsMax; u += 250 {
		rate := BorrowRateBps(m, u)
		if rate < prev {
			t.Fatalf("rate dropped from %d to %d at u=%d", prev, rate, u)
		}
		prev = rate
	}
}

func TestSupplyRateBelowBorrowRate(t *testing.T) {
	// borrow 3600 bps at 90% utilization with a 10% reserve cut:
	// 3600*9000*9000/10^8 = 2916 bps.
	if got := SupplyRateBps(3_600, 9_000, 1_000); got != 2_916 {
		t.Fatalf("SupplyRateBps = %d, want 2916", got)
	}
	for _, u := range []uint64{0, 2_500, 5_000, 9_999, 10_000} {
		borrow := BorrowRateBps(kinkedMarket(), u)
		supply := SupplyRateBps(borrow, u, 1_000)
		if supply > borrow {
			t.Fatalf("supply rate %d exceeds borrow rate %d at u=%d", supply, borrow, u)
		}
	}
}

func TestRefreshRatesDerivesAllFields(t *testing.T) {
	m := kinkedMarket()
	m.StableRatePremiumBps = 200
	m.TotalSupply = wadAmount(1000)
	m.TotalBorrowed = wadAmount(400)

	refreshRates(m)

	if m.UtilizationBps != 4_000 {
		t.Fatalf("utilization = %d, want 4000", m.UtilizationBps)
	}
	if m.BorrowRateVariableBps != 400 {
		t.Fatalf("variable rate = %d, want 400", m.BorrowRateVariableBps)
	}
	if m.BorrowRateStableBps != 600 {
		t.Fatalf("stable rate = %d, want variable+premium = 600", m.BorrowRateStableBps)
	}
	// 400*4000*9000/10^8 = 144 bps.
	if m.SupplyRateBps != 144 {
		t.Fatalf("supply rate = %d, want 144", m.SupplyRateBps)
	}
}

func TestUtilizationPrecision(t *testing.T) {
	if got := utilizationBps(nil, nil); got != 0 {
		t.Fatalf("empty market utilization = %d, want 0", got)
	}
	if got := utilizationBps(wadAmount(1), wadAmount(3)); got != 3_333 {
		t.Fatalf("1/3 utilization = %d, want floor 3333", got)
	}
	if got := utilizationBps(wadAmount(5), wadAmount(5)); got != BasisPointsMax {
		t.Fatalf("full utilization = %d, want %d", got, BasisPointsMax)
	}
	if got := utilizationBps(wadAmount(7), wadAmount(5)); got != BasisPointsMax {
		t.Fatalf("over-utilization = %d, want capped %d", got, BasisPointsMax)
	}
}

func TestFixedPointHelpers(t *testing.T) {
	price := wadPrice(3, 2) // 1.5
	if got := valueOf(wadAmount(10), price); got.Cmp(wadAmount(15)) != 0 {
		t.Fatalf("valueOf(10, 1.5) = %s, want 15 WAD", got)
	}
	if got := amountOf(wadAmount(15), price); got.Cmp(wadAmount(10)) != 0 {
		t.Fatalf("amountOf(15, 1.5) = %s, want 10 WAD", got)
	}
	// Floor semantics: 10 * 1 / 3 truncates down.
	if got := mulDiv(big.NewInt(10), big.NewInt(1), big.NewInt(3)); got.Int64() != 3 {
		t.Fatalf("mulDiv floor = %d, want 3", got.Int64())
	}
	if got := bpsShare(wadAmount(1000), 7_500); got.Cmp(wadAmount(750)) != 0 {
		t.Fatalf("bpsShare(1000, 7500) = %s, want 750 WAD", got)
	}
}

func TestHealthFactorSentinel(t *testing.T) {
	if got := healthFactorBps(wadAmount(100), big.NewInt(0)); got != MaxHealthFactorBps {
		t.Fatalf("debt-free health = %d, want sentinel %d", got, MaxHealthFactorBps)
	}
	if got := healthFactorBps(big.NewInt(0), wadAmount(1)); got != 0 {
		t.Fatalf("no-collateral health = %d, want 0", got)
	}
	// Absurdly overcollateralized positions cap at the sentinel.
	if got := healthFactorBps(wadAmount(1_000_000), big.NewInt(1)); got != MaxHealthFactorBps {
		t.Fatalf("capped health = %d, want %d", got, MaxHealthFactorBps)
	}
}

func TestHealthStatusBands(t *testing.T) {
	cases := []struct {
		hf   uint64
		want HealthStatus
	}{
		{9_999, StatusLiquidatable},
		{10_000, StatusAtRisk},
		{12_499, StatusAtRisk},
		{12_500, StatusHealthy},
		{MaxHealthFactorBps, StatusHealthy},
	}
	for _, tc := range cases {
		if got := HealthStatusFor(tc.hf); got != tc.want {
			t.Errorf("HealthStatusFor(%d) = %s, want %s", tc.hf, got, tc.want)
		}
	}
}
