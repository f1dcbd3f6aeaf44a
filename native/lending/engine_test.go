package lending

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"
)

func wadAmount(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), wad)
}

func wadPrice(num, den int64) *big.Int {
	price := new(big.Int).Mul(big.NewInt(num), wad)
	return price.Quo(price, big.NewInt(den))
}

type testHarness struct {
	engine *Engine
	state  *MemoryState
	oracle *StaticOracle
	now    time.Time
}

func (h *testHarness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

// newTestHarness wires an engine over in-memory state with a fixed clock and
// two seeded markets: "asset-x" (collateral grade) and "asset-y"
// (borrowable), both priced at 1.0.
func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		state:  NewMemoryState(),
		oracle: NewStaticOracle(),
		now:    time.Unix(1_700_000_000, 0).UTC(),
	}
	clock := func() time.Time { return h.now }
	h.oracle.SetClock(clock)
	h.engine = New(h.state, h.oracle, DefaultParams(), WithClock(clock))

	ctx := context.Background()
	for _, m := range []*Market{
		{
			ID:                      "asset-x",
			AssetSymbol:             "X",
			BaseRateBps:             200,
			OptimalUtilizationBps:   8_000,
			Slope1Bps:               400,
			Slope2Bps:               6_000,
			ReserveFactorBps:        1_000,
			CollateralFactorBps:     7_500,
			LiquidationThresholdBps: 8_000,
			LiquidationPenaltyBps:   500,
			CanBeCollateral:         true,
			CanBeBorrowed:           true,
		},
		{
			ID:                      "asset-y",
			AssetSymbol:             "Y",
			BaseRateBps:             200,
			OptimalUtilizationBps:   8_000,
			Slope1Bps:               400,
			Slope2Bps:               6_000,
			ReserveFactorBps:        1_000,
			CollateralFactorBps:     7_000,
			LiquidationThresholdBps: 7_500,
			LiquidationPenaltyBps:   500,
			CanBeCollateral:         true,
			CanBeBorrowed:           true,
		},
	} {
		if _, err := h.engine.CreateMarket(ctx, m); err != nil {
			t.Fatalf("create market %s: %v", m.ID, err)
		}
	}
	h.oracle.SetPriceAt("asset-x", WAD(), h.now)
	h.oracle.SetPriceAt("asset-y", WAD(), h.now)
	return h
}

func TestSupplyWithdrawRoundTrip(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	row, tx, err := h.engine.Supply(ctx, "alice", "asset-x", wadAmount(1000), true)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if row.SuppliedAmount.Cmp(wadAmount(1000)) != 0 {
		t.Fatalf("supplied amount = %s, want 1000 WAD", row.SuppliedAmount)
	}
	if row.SuppliedShares.Cmp(wadAmount(1000)) != 0 {
		t.Fatalf("shares at 1.0 exchange rate = %s, want 1000 WAD", row.SuppliedShares)
	}
	if !row.IsCollateral {
		t.Fatal("collateral flag not set")
	}
	if tx.Type != TxSupply || tx.HealthFactorAfterBps != MaxHealthFactorBps {
		t.Fatalf("journal entry = %+v", tx)
	}

	market, err := h.engine.GetMarket(ctx, "asset-x")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	if market.TotalSupply.Cmp(wadAmount(1000)) != 0 || market.AvailableLiquidity.Cmp(wadAmount(1000)) != 0 {
		t.Fatalf("market aggregates = supply %s available %s", market.TotalSupply, market.AvailableLiquidity)
	}

	if _, err := h.engine.Withdraw(ctx, "alice", "asset-x", wadAmount(400)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	row, err = h.state.GetSupply("alice", "asset-x")
	if err != nil {
		t.Fatalf("get supply: %v", err)
	}
	if row.SuppliedAmount.Cmp(wadAmount(600)) != 0 {
		t.Fatalf("supplied after withdraw = %s, want 600 WAD", row.SuppliedAmount)
	}

	// Withdrawing the rest removes the row entirely.
	if _, err := h.engine.Withdraw(ctx, "alice", "asset-x", wadAmount(600)); err != nil {
		t.Fatalf("final withdraw: %v", err)
	}
	row, err = h.state.GetSupply("alice", "asset-x")
	if err != nil {
		t.Fatalf("get supply: %v", err)
	}
	if row != nil {
		t.Fatalf("supply row survived full withdrawal: %+v", row)
	}
}

func TestSupplyRejectsBadInput(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, _, err := h.engine.Supply(ctx, "alice", "asset-x", big.NewInt(0), true); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: %v, want ErrInvalidAmount", err)
	}
	if _, _, err := h.engine.Supply(ctx, "alice", "asset-x", big.NewInt(-5), true); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount: %v, want ErrInvalidAmount", err)
	}
	if _, _, err := h.engine.Supply(ctx, "alice", "missing", wadAmount(1), true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown market: %v, want ErrNotFound", err)
	}

	if err := h.engine.SetMarketStatus(ctx, "asset-x", MarketPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, _, err := h.engine.Supply(ctx, "alice", "asset-x", wadAmount(1), true); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("paused market: %v, want ErrInvalidState", err)
	}
}

func TestBorrowCapacityScenario(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// Seed borrowable liquidity in Y and collateral for alice in X.
	if _, _, err := h.engine.Supply(ctx, "lp", "asset-y", wadAmount(2000), false); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	if _, _, err := h.engine.Supply(ctx, "alice", "asset-x", wadAmount(1000), true); err != nil {
		t.Fatalf("supply collateral: %v", err)
	}

	// 1000 collateral at factor 7500 bps gives exactly 750 of capacity.
	quote, err := h.engine.QuoteBorrow(ctx, "alice", "asset-y", wadAmount(750))
	if err != nil {
		t.Fatalf("quote borrow: %v", err)
	}
	if quote.NewHealthFactorBps != 10_666 {
		t.Fatalf("projected health = %d bps, want 10666", quote.NewHealthFactorBps)
	}
	if quote.RemainingCapacity.Sign() != 0 {
		t.Fatalf("remaining capacity = %s, want 0", quote.RemainingCapacity)
	}

	if _, _, err := h.engine.Borrow(ctx, "alice", "asset-y", wadAmount(800), RateModeVariable); !errors.Is(err, ErrExceedsCapacity) {
		t.Fatalf("over-capacity borrow: %v, want ErrExceedsCapacity", err)
	}

	row, tx, err := h.engine.Borrow(ctx, "alice", "asset-y", wadAmount(750), RateModeVariable)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if row.BorrowedAmount.Cmp(wadAmount(750)) != 0 {
		t.Fatalf("borrowed = %s, want 750 WAD", row.BorrowedAmount)
	}
	if tx.HealthFactorAfterBps != 10_666 {
		t.Fatalf("health after borrow = %d bps, want 10666", tx.HealthFactorAfterBps)
	}

	position, err := h.state.GetPosition("alice")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if position.HealthStatus != StatusAtRisk {
		t.Fatalf("status = %s, want at_risk inside the warning band", position.HealthStatus)
	}

	market, err := h.engine.GetMarket(ctx, "asset-y")
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	wantAvailable := new(big.Int).Sub(market.TotalSupply, market.TotalBorrowed)
	if market.AvailableLiquidity.Cmp(wantAvailable) != 0 {
		t.Fatalf("available = %s, want supply-borrowed = %s", market.AvailableLiquidity, wantAvailable)
	}
}

func TestBorrowRejectsIlliquidMarket(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, _, err := h.engine.Supply(ctx, "lp", "asset-y", wadAmount(100), false); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	if _, _, err := h.engine.Supply(ctx, "alice", "asset-x", wadAmount(10_000), true); err != nil {
		t.Fatalf("supply collateral: %v", err)
	}
	// Plenty of capacity, not enough liquidity: the liquidity check fires
	// first.
	if _, _, err := h.engine.Borrow(ctx, "alice", "asset-y", wadAmount(500), RateModeVariable); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("borrow: %v, want ErrInsufficientLiquidity", err)
	}
}

func TestWithdrawGuardsCollateralBackingDebt(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, _, err := h.engine.Supply(ctx, "lp", "asset-y", wadAmount(2000), false); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	if _, _, err := h.engine.Supply(ctx, "alice", "asset-x", wadAmount(1000), true); err != nil {
		t.Fatalf("supply collateral: %v", err)
	}
	if _, _, err := h.engine.Borrow(ctx, "alice", "asset-y", wadAmount(600), RateModeVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// 600 of debt needs 750 of threshold-weighted collateral; withdrawing
	// 300 leaves 700*0.8 = 560 and must be rejected before commit.
	if _, err := h.engine.Withdraw(ctx, "alice", "asset-x", wadAmount(300)); !errors.Is(err, ErrExceedsCapacity) {
		t.Fatalf("unsafe withdraw: %v, want ErrExceedsCapacity", err)
	}
	row, err := h.state.GetSupply("alice", "asset-x")
	if err != nil {
		t.Fatalf("get supply: %v", err)
	}
	if row.SuppliedAmount.Cmp(wadAmount(1000)) != 0 {
		t.Fatalf("rejected withdraw mutated supply: %s", row.SuppliedAmount)
	}

	// A smaller withdrawal that keeps the factor above 1.0 goes through:
	// 900*0.8/600 = 12000 bps.
	tx, err := h.engine.Withdraw(ctx, "alice", "asset-x", wadAmount(100))
	if err != nil {
		t.Fatalf("safe withdraw: %v", err)
	}
	if tx.HealthFactorAfterBps != 12_000 {
		t.Fatalf("health after withdraw = %d bps, want 12000", tx.HealthFactorAfterBps)
	}
}

func TestRepayClampsToOutstandingDebt(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, _, err := h.engine.Supply(ctx, "lp", "asset-y", wadAmount(2000), false); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	if _, _, err := h.engine.Supply(ctx, "alice", "asset-x", wadAmount(1000), true); err != nil {
		t.Fatalf("supply collateral: %v", err)
	}
	if _, _, err := h.engine.Borrow(ctx, "alice", "asset-y", wadAmount(500), RateModeVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	quote, err := h.engine.QuoteRepay(ctx, "alice", "asset-y", wadAmount(800))
	if err != nil {
		t.Fatalf("quote repay: %v", err)
	}
	if quote.Amount.Cmp(wadAmount(500)) != 0 || quote.RemainingDebt.Sign() != 0 {
		t.Fatalf("quote = applied %s remaining %s", quote.Amount, quote.RemainingDebt)
	}

	tx, err := h.engine.Repay(ctx, "alice", "asset-y", wadAmount(800))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if tx.Amount.Cmp(wadAmount(500)) != 0 {
		t.Fatalf("applied = %s, want clamped 500 WAD", tx.Amount)
	}
	if tx.HealthFactorAfterBps != MaxHealthFactorBps {
		t.Fatalf("debt-free health = %d bps, want sentinel", tx.HealthFactorAfterBps)
	}
	row, err := h.state.GetBorrow("alice", "asset-y")
	if err != nil {
		t.Fatalf("get borrow: %v", err)
	}
	if row != nil {
		t.Fatalf("borrow row survived full repayment: %+v", row)
	}

	if _, err := h.engine.Repay(ctx, "alice", "asset-y", wadAmount(1)); !errors.Is(err, ErrNoDebt) {
		t.Fatalf("repay with no debt: %v, want ErrNoDebt", err)
	}
}

func TestJournalRecordsEveryMutation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, _, err := h.engine.Supply(ctx, "lp", "asset-y", wadAmount(2000), false); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	if _, _, err := h.engine.Supply(ctx, "alice", "asset-x", wadAmount(1000), true); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if _, _, err := h.engine.Borrow(ctx, "alice", "asset-y", wadAmount(400), RateModeVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := h.engine.Repay(ctx, "alice", "asset-y", wadAmount(400)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, "alice", "asset-x", wadAmount(1000)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	txs, err := h.engine.RecentTransactions(ctx, 0)
	if err != nil {
		t.Fatalf("recent transactions: %v", err)
	}
	wantTypes := []TxType{TxSupply, TxSupply, TxBorrow, TxRepay, TxWithdraw}
	if len(txs) != len(wantTypes) {
		t.Fatalf("journal length = %d, want %d", len(txs), len(wantTypes))
	}
	for i, tx := range txs {
		if tx.Type != wantTypes[i] {
			t.Fatalf("journal[%d] type = %s, want %s", i, tx.Type, wantTypes[i])
		}
		if tx.ID == "" || tx.TxHash == "" || tx.Status != "completed" {
			t.Fatalf("journal[%d] missing identifiers: %+v", i, tx)
		}
	}
}

func TestPositionSummary(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, _, err := h.engine.Supply(ctx, "lp", "asset-y", wadAmount(2000), false); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	if _, _, err := h.engine.Supply(ctx, "alice", "asset-x", wadAmount(1000), true); err != nil {
		t.Fatalf("supply: %v", err)
	}
	if _, _, err := h.engine.Borrow(ctx, "alice", "asset-y", wadAmount(500), RateModeVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	summary, err := h.engine.GetPosition(ctx, "alice")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if summary.TotalSuppliedValue.Cmp(wadAmount(1000)) != 0 {
		t.Fatalf("supplied value = %s, want 1000 WAD", summary.TotalSuppliedValue)
	}
	if summary.TotalBorrowedValue.Cmp(wadAmount(500)) != 0 {
		t.Fatalf("borrowed value = %s, want 500 WAD", summary.TotalBorrowedValue)
	}
	// 1000*0.8/500 = 16000 bps, capacity 1000*0.75-500 = 250.
	if summary.HealthFactorBps != 16_000 {
		t.Fatalf("health = %d bps, want 16000", summary.HealthFactorBps)
	}
	if summary.BorrowCapacity.Cmp(wadAmount(250)) != 0 {
		t.Fatalf("capacity = %s, want 250 WAD", summary.BorrowCapacity)
	}
	if len(summary.Supplies) != 1 || len(summary.Borrows) != 1 {
		t.Fatalf("breakdown = %d supplies %d borrows", len(summary.Supplies), len(summary.Borrows))
	}

	if _, err := h.engine.GetPosition(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty position: %v, want ErrNotFound", err)
	}
}

func TestStalePriceRejected(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.oracle.SetPriceAt("asset-x", WAD(), h.now.Add(-time.Hour))
	if _, _, err := h.engine.Supply(ctx, "alice", "asset-x", wadAmount(10), true); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("stale quote: %v, want ErrStalePrice", err)
	}
}

func TestCreateMarketValidation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, err := h.engine.CreateMarket(ctx, &Market{ID: "asset-x"}); !errors.Is(err, ErrMarketExists) {
		t.Fatalf("duplicate id: %v, want ErrMarketExists", err)
	}
	if _, err := h.engine.CreateMarket(ctx, &Market{
		ID:                      "bad",
		CollateralFactorBps:     8_000,
		LiquidationThresholdBps: 7_000,
	}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("threshold below factor: %v, want ErrInvalidState", err)
	}
}
