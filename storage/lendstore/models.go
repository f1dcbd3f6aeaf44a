package lendstore

import (
	"fmt"
	"math/big"
	"time"

	"gorm.io/gorm"

	"lendcore/native/lending"
)

// Amount columns are stored as decimal strings: sqlite has no integer type
// wide enough for WAD-scaled values and the engine never does arithmetic in
// the database.

// MarketRow persists one lending market.
type MarketRow struct {
	ID           string `gorm:"primaryKey"`
	AssetSymbol  string `gorm:"index"`
	AssetAddress string
	Decimals     uint8

	TotalSupply        string
	TotalBorrowed      string
	AvailableLiquidity string
	ExchangeRate       string
	Reserves           string

	UtilizationBps        uint64
	SupplyRateBps         uint64
	BorrowRateVariableBps uint64
	BorrowRateStableBps   uint64

	BaseRateBps           uint64
	OptimalUtilizationBps uint64
	Slope1Bps             uint64
	Slope2Bps             uint64
	ReserveFactorBps      uint64
	StableRatePremiumBps  uint64

	CollateralFactorBps     uint64
	LiquidationThresholdBps uint64
	LiquidationPenaltyBps   uint64

	CanBeCollateral bool
	CanBeBorrowed   bool
	Status          string `gorm:"index"`

	LastAccrual time.Time
	UpdatedAt   time.Time
}

// SupplyRow persists one (user, market) deposit.
type SupplyRow struct {
	UserAddress    string `gorm:"primaryKey;index"`
	MarketID       string `gorm:"primaryKey;index"`
	SuppliedAmount string
	SuppliedShares string
	IsCollateral   bool
	UpdatedAt      time.Time
}

// BorrowRow persists one (user, market) debt.
type BorrowRow struct {
	UserAddress     string `gorm:"primaryKey;index"`
	MarketID        string `gorm:"primaryKey;index"`
	BorrowedAmount  string
	AccruedInterest string
	RateMode        string
	UpdatedAt       time.Time
}

// PositionRow persists the cached per-user aggregate.
type PositionRow struct {
	UserAddress          string `gorm:"primaryKey"`
	TotalCollateralValue string
	TotalBorrowedValue   string
	HealthFactorBps      uint64
	HealthStatus         string `gorm:"index"`
	SuppliedAssetCount   int
	BorrowedAssetCount   int
	UpdatedAt            time.Time
}

// TransactionRow persists one journal entry. Seq preserves append order.
type TransactionRow struct {
	Seq                  uint64 `gorm:"primaryKey;autoIncrement"`
	ID                   string `gorm:"uniqueIndex"`
	TxHash               string `gorm:"index"`
	UserAddress          string `gorm:"index"`
	MarketID             string `gorm:"index"`
	Type                 string
	Amount               string
	Shares               string
	Value                string
	RateMode             string
	HealthFactorAfterBps uint64
	Status               string
	CreatedAt            time.Time
}

// LiquidationRow persists one liquidation record.
type LiquidationRow struct {
	Seq                   uint64 `gorm:"primaryKey;autoIncrement"`
	ID                    string `gorm:"uniqueIndex"`
	TxHash                string `gorm:"index"`
	BorrowerAddress       string `gorm:"index"`
	LiquidatorAddress     string `gorm:"index"`
	DebtMarketID          string
	DebtAsset             string
	CollateralMarketID    string
	CollateralAsset       string
	DebtRepaid            string
	DebtRepaidValue       string
	CollateralSeized      string
	Bonus                 string
	HealthFactorBeforeBps uint64
	HealthFactorAfterBps  uint64
	CloseFactorBps        uint64
	CreatedAt             time.Time
}

// RatePointRow persists one rate-history sample.
type RatePointRow struct {
	Seq                   uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID              string `gorm:"index"`
	SupplyRateBps         uint64
	BorrowRateVariableBps uint64
	BorrowRateStableBps   uint64
	UtilizationBps        uint64
	TotalSupply           string
	TotalBorrowed         string
	CreatedAt             time.Time
}

// AutoMigrate performs all schema migrations for the store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&MarketRow{},
		&SupplyRow{},
		&BorrowRow{},
		&PositionRow{},
		&TransactionRow{},
		&LiquidationRow{},
		&RatePointRow{},
	)
}

func encodeBig(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func decodeBig(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("lendstore: malformed amount %q", s)
	}
	return v, nil
}

func marketToRow(m *lending.Market) *MarketRow {
	return &MarketRow{
		ID:                      m.ID,
		AssetSymbol:             m.AssetSymbol,
		AssetAddress:            m.AssetAddress,
		Decimals:                m.Decimals,
		TotalSupply:             encodeBig(m.TotalSupply),
		TotalBorrowed:           encodeBig(m.TotalBorrowed),
		AvailableLiquidity:      encodeBig(m.AvailableLiquidity),
		ExchangeRate:            encodeBig(m.ExchangeRate),
		Reserves:                encodeBig(m.Reserves),
		UtilizationBps:          m.UtilizationBps,
		SupplyRateBps:           m.SupplyRateBps,
		BorrowRateVariableBps:   m.BorrowRateVariableBps,
		BorrowRateStableBps:     m.BorrowRateStableBps,
		BaseRateBps:             m.BaseRateBps,
		OptimalUtilizationBps:   m.OptimalUtilizationBps,
		Slope1Bps:               m.Slope1Bps,
		Slope2Bps:               m.Slope2Bps,
		ReserveFactorBps:        m.ReserveFactorBps,
		StableRatePremiumBps:    m.StableRatePremiumBps,
		CollateralFactorBps:     m.CollateralFactorBps,
		LiquidationThresholdBps: m.LiquidationThresholdBps,
		LiquidationPenaltyBps:   m.LiquidationPenaltyBps,
		CanBeCollateral:         m.CanBeCollateral,
		CanBeBorrowed:           m.CanBeBorrowed,
		Status:                  string(m.Status),
		LastAccrual:             m.LastAccrual,
	}
}

func rowToMarket(r *MarketRow) (*lending.Market, error) {
	totalSupply, err := decodeBig(r.TotalSupply)
	if err != nil {
		return nil, err
	}
	totalBorrowed, err := decodeBig(r.TotalBorrowed)
	if err != nil {
		return nil, err
	}
	available, err := decodeBig(r.AvailableLiquidity)
	if err != nil {
		return nil, err
	}
	exchangeRate, err := decodeBig(r.ExchangeRate)
	if err != nil {
		return nil, err
	}
	reserves, err := decodeBig(r.Reserves)
	if err != nil {
		return nil, err
	}
	m := &lending.Market{
		ID:                      r.ID,
		AssetSymbol:             r.AssetSymbol,
		AssetAddress:            r.AssetAddress,
		Decimals:                r.Decimals,
		TotalSupply:             totalSupply,
		TotalBorrowed:           totalBorrowed,
		AvailableLiquidity:      available,
		ExchangeRate:            exchangeRate,
		Reserves:                reserves,
		UtilizationBps:          r.UtilizationBps,
		SupplyRateBps:           r.SupplyRateBps,
		BorrowRateVariableBps:   r.BorrowRateVariableBps,
		BorrowRateStableBps:     r.BorrowRateStableBps,
		BaseRateBps:             r.BaseRateBps,
		OptimalUtilizationBps:   r.OptimalUtilizationBps,
		Slope1Bps:               r.Slope1Bps,
		Slope2Bps:               r.Slope2Bps,
		ReserveFactorBps:        r.ReserveFactorBps,
		StableRatePremiumBps:    r.StableRatePremiumBps,
		CollateralFactorBps:     r.CollateralFactorBps,
		LiquidationThresholdBps: r.LiquidationThresholdBps,
		LiquidationPenaltyBps:   r.LiquidationPenaltyBps,
		CanBeCollateral:         r.CanBeCollateral,
		CanBeBorrowed:           r.CanBeBorrowed,
		Status:                  lending.MarketStatus(r.Status),
		LastAccrual:             r.LastAccrual,
	}
	m.EnsureDefaults()
	return m, nil
}

func rowToSupply(r *SupplyRow) (*lending.Supply, error) {
	amount, err := decodeBig(r.SuppliedAmount)
	if err != nil {
		return nil, err
	}
	shares, err := decodeBig(r.SuppliedShares)
	if err != nil {
		return nil, err
	}
	return &lending.Supply{
		UserAddress:    r.UserAddress,
		MarketID:       r.MarketID,
		SuppliedAmount: amount,
		SuppliedShares: shares,
		IsCollateral:   r.IsCollateral,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

func rowToBorrow(r *BorrowRow) (*lending.Borrow, error) {
	amount, err := decodeBig(r.BorrowedAmount)
	if err != nil {
		return nil, err
	}
	interest, err := decodeBig(r.AccruedInterest)
	if err != nil {
		return nil, err
	}
	return &lending.Borrow{
		UserAddress:     r.UserAddress,
		MarketID:        r.MarketID,
		BorrowedAmount:  amount,
		AccruedInterest: interest,
		RateMode:        lending.RateMode(r.RateMode),
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

func rowToPosition(r *PositionRow) (*lending.Position, error) {
	collateral, err := decodeBig(r.TotalCollateralValue)
	if err != nil {
		return nil, err
	}
	borrowed, err := decodeBig(r.TotalBorrowedValue)
	if err != nil {
		return nil, err
	}
	return &lending.Position{
		UserAddress:          r.UserAddress,
		TotalCollateralValue: collateral,
		TotalBorrowedValue:   borrowed,
		HealthFactorBps:      r.HealthFactorBps,
		HealthStatus:         lending.HealthStatus(r.HealthStatus),
		SuppliedAssetCount:   r.SuppliedAssetCount,
		BorrowedAssetCount:   r.BorrowedAssetCount,
		UpdatedAt:            r.UpdatedAt,
	}, nil
}

func rowToTransaction(r *TransactionRow) (*lending.Transaction, error) {
	amount, err := decodeBig(r.Amount)
	if err != nil {
		return nil, err
	}
	shares, err := decodeBig(r.Shares)
	if err != nil {
		return nil, err
	}
	value, err := decodeBig(r.Value)
	if err != nil {
		return nil, err
	}
	return &lending.Transaction{
		ID:                   r.ID,
		TxHash:               r.TxHash,
		UserAddress:          r.UserAddress,
		MarketID:             r.MarketID,
		Type:                 lending.TxType(r.Type),
		Amount:               amount,
		Shares:               shares,
		Value:                value,
		RateMode:             lending.RateMode(r.RateMode),
		HealthFactorAfterBps: r.HealthFactorAfterBps,
		Status:               r.Status,
		CreatedAt:            r.CreatedAt,
	}, nil
}

func rowToLiquidation(r *LiquidationRow) (*lending.LiquidationRecord, error) {
	repaid, err := decodeBig(r.DebtRepaid)
	if err != nil {
		return nil, err
	}
	repaidValue, err := decodeBig(r.DebtRepaidValue)
	if err != nil {
		return nil, err
	}
	seized, err := decodeBig(r.CollateralSeized)
	if err != nil {
		return nil, err
	}
	bonus, err := decodeBig(r.Bonus)
	if err != nil {
		return nil, err
	}
	return &lending.LiquidationRecord{
		ID:                    r.ID,
		TxHash:                r.TxHash,
		BorrowerAddress:       r.BorrowerAddress,
		LiquidatorAddress:     r.LiquidatorAddress,
		DebtMarketID:          r.DebtMarketID,
		DebtAsset:             r.DebtAsset,
		CollateralMarketID:    r.CollateralMarketID,
		CollateralAsset:       r.CollateralAsset,
		DebtRepaid:            repaid,
		DebtRepaidValue:       repaidValue,
		CollateralSeized:      seized,
		Bonus:                 bonus,
		HealthFactorBeforeBps: r.HealthFactorBeforeBps,
		HealthFactorAfterBps:  r.HealthFactorAfterBps,
		CloseFactorBps:        r.CloseFactorBps,
		CreatedAt:             r.CreatedAt,
	}, nil
}

func rowToRatePoint(r *RatePointRow) (*lending.RatePoint, error) {
	totalSupply, err := decodeBig(r.TotalSupply)
	if err != nil {
		return nil, err
	}
	totalBorrowed, err := decodeBig(r.TotalBorrowed)
	if err != nil {
		return nil, err
	}
	return &lending.RatePoint{
		MarketID:              r.MarketID,
		SupplyRateBps:         r.SupplyRateBps,
		BorrowRateVariableBps: r.BorrowRateVariableBps,
		BorrowRateStableBps:   r.BorrowRateStableBps,
		UtilizationBps:        r.UtilizationBps,
		TotalSupply:           totalSupply,
		TotalBorrowed:         totalBorrowed,
		CreatedAt:             r.CreatedAt,
	}, nil
}
