package lendstore

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lendcore/native/lending"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "lending.db"))
	require.NoError(t, err)
	return store
}

func wadAmount(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), lending.WAD())
}

func TestMarketRoundTrip(t *testing.T) {
	store := openTestStore(t)

	missing, err := store.GetMarket("asset-x")
	require.NoError(t, err)
	require.Nil(t, missing)

	market := &lending.Market{
		ID:                      "asset-x",
		AssetSymbol:             "X",
		TotalSupply:             wadAmount(1000),
		TotalBorrowed:           wadAmount(400),
		AvailableLiquidity:      wadAmount(600),
		ExchangeRate:            lending.WAD(),
		Reserves:                big.NewInt(7),
		UtilizationBps:          4000,
		BaseRateBps:             200,
		OptimalUtilizationBps:   8000,
		Slope1Bps:               400,
		Slope2Bps:               6000,
		ReserveFactorBps:        1000,
		CollateralFactorBps:     7500,
		LiquidationThresholdBps: 8000,
		LiquidationPenaltyBps:   500,
		CanBeCollateral:         true,
		CanBeBorrowed:           true,
		Status:                  lending.MarketActive,
		LastAccrual:             time.Unix(1_700_000_000, 0).UTC(),
	}
	require.NoError(t, store.PutMarket(market))

	got, err := store.GetMarket("asset-x")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 0, got.TotalSupply.Cmp(market.TotalSupply))
	require.Equal(t, 0, got.Reserves.Cmp(market.Reserves))
	require.Equal(t, market.Status, got.Status)
	require.Equal(t, market.LiquidationThresholdBps, got.LiquidationThresholdBps)

	// Upsert updates in place.
	market.TotalBorrowed = wadAmount(500)
	require.NoError(t, store.PutMarket(market))
	markets, err := store.ListMarkets()
	require.NoError(t, err)
	require.Len(t, markets, 1)
	require.Equal(t, 0, markets[0].TotalBorrowed.Cmp(wadAmount(500)))
}

func TestSupplyAndBorrowRows(t *testing.T) {
	store := openTestStore(t)

	supply := &lending.Supply{
		UserAddress:    "alice",
		MarketID:       "asset-x",
		SuppliedAmount: wadAmount(100),
		SuppliedShares: wadAmount(100),
		IsCollateral:   true,
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, store.PutSupply(supply))
	require.NoError(t, store.PutSupply(&lending.Supply{
		UserAddress:    "alice",
		MarketID:       "asset-y",
		SuppliedAmount: wadAmount(50),
		SuppliedShares: wadAmount(50),
	}))

	rows, err := store.SuppliesByUser("alice")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "asset-x", rows[0].MarketID)
	require.True(t, rows[0].IsCollateral)

	// Composite key upsert.
	supply.SuppliedAmount = wadAmount(250)
	require.NoError(t, store.PutSupply(supply))
	got, err := store.GetSupply("alice", "asset-x")
	require.NoError(t, err)
	require.Equal(t, 0, got.SuppliedAmount.Cmp(wadAmount(250)))

	require.NoError(t, store.DeleteSupply("alice", "asset-x"))
	got, err = store.GetSupply("alice", "asset-x")
	require.NoError(t, err)
	require.Nil(t, got)

	borrow := &lending.Borrow{
		UserAddress:     "alice",
		MarketID:        "asset-y",
		BorrowedAmount:  wadAmount(30),
		AccruedInterest: big.NewInt(123),
		RateMode:        lending.RateModeStable,
	}
	require.NoError(t, store.PutBorrow(borrow))
	byUser, err := store.BorrowsByUser("alice")
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	require.Equal(t, lending.RateModeStable, byUser[0].RateMode)
	byMarket, err := store.BorrowsByMarket("asset-y")
	require.NoError(t, err)
	require.Len(t, byMarket, 1)
	require.Equal(t, 0, byMarket[0].AccruedInterest.Cmp(big.NewInt(123)))

	require.NoError(t, store.DeleteBorrow("alice", "asset-y"))
	gone, err := store.GetBorrow("alice", "asset-y")
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestJournalOrderingAndLimits(t *testing.T) {
	store := openTestStore(t)

	for i, typ := range []lending.TxType{lending.TxSupply, lending.TxBorrow, lending.TxRepay} {
		require.NoError(t, store.AppendTransaction(&lending.Transaction{
			ID:          string(rune('a' + i)),
			TxHash:      "0x" + string(rune('a'+i)),
			UserAddress: "alice",
			MarketID:    "asset-x",
			Type:        typ,
			Amount:      wadAmount(int64(i + 1)),
			Status:      "completed",
			CreatedAt:   time.Now().UTC(),
		}))
	}

	all, err := store.RecentTransactions(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, lending.TxSupply, all[0].Type)
	require.Equal(t, lending.TxRepay, all[2].Type)

	last2, err := store.RecentTransactions(2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	require.Equal(t, lending.TxBorrow, last2[0].Type)
	require.Equal(t, lending.TxRepay, last2[1].Type)
}

func TestRateHistoryFiltersByMarket(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendRatePoint(&lending.RatePoint{
			MarketID:       "asset-x",
			UtilizationBps: uint64(1000 * (i + 1)),
			TotalSupply:    wadAmount(100),
			TotalBorrowed:  wadAmount(int64(10 * (i + 1))),
			CreatedAt:      time.Now().UTC(),
		}))
	}
	require.NoError(t, store.AppendRatePoint(&lending.RatePoint{
		MarketID:      "asset-y",
		TotalSupply:   wadAmount(1),
		TotalBorrowed: big.NewInt(0),
		CreatedAt:     time.Now().UTC(),
	}))

	history, err := store.RateHistory("asset-x", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, uint64(2000), history[0].UtilizationBps)
	require.Equal(t, uint64(3000), history[1].UtilizationBps)
}

func TestStoreBacksEngine(t *testing.T) {
	store := openTestStore(t)
	oracle := lending.NewStaticOracle()
	engine := lending.New(store, oracle, lending.DefaultParams())
	ctx := context.Background()

	_, err := engine.CreateMarket(ctx, &lending.Market{
		ID:                      "asset-x",
		AssetSymbol:             "X",
		BaseRateBps:             200,
		OptimalUtilizationBps:   8000,
		Slope1Bps:               400,
		Slope2Bps:               6000,
		ReserveFactorBps:        1000,
		CollateralFactorBps:     7500,
		LiquidationThresholdBps: 8000,
		LiquidationPenaltyBps:   500,
		CanBeCollateral:         true,
		CanBeBorrowed:           true,
	})
	require.NoError(t, err)

	_, _, err = engine.Supply(ctx, "alice", "asset-x", wadAmount(1000), true)
	require.NoError(t, err)

	position, err := store.GetPosition("alice")
	require.NoError(t, err)
	require.NotNil(t, position)
	require.Equal(t, lending.StatusHealthy, position.HealthStatus)
	require.Equal(t, 0, position.TotalCollateralValue.Cmp(wadAmount(1000)))

	txs, err := store.RecentTransactions(0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, lending.TxSupply, txs[0].Type)
}
