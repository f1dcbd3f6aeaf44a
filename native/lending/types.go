package lending

import (
	"math/big"
	"time"
)

// MarketStatus tracks the administrative lifecycle of a market. Markets are
// provisioned once and only ever transition between statuses, never deleted.
type MarketStatus string

const (
	MarketActive MarketStatus = "active"
	MarketPaused MarketStatus = "paused"
	MarketFrozen MarketStatus = "frozen"
)

// RateMode selects the interest mode attached to a borrow row.
type RateMode string

const (
	RateModeVariable RateMode = "variable"
	RateModeStable   RateMode = "stable"
)

// HealthStatus classifies a position by its health factor.
type HealthStatus string

const (
	StatusHealthy      HealthStatus = "healthy"
	StatusAtRisk       HealthStatus = "at_risk"
	StatusLiquidatable HealthStatus = "liquidatable"
)

// TxType labels journal entries.
type TxType string

const (
	TxSupply      TxType = "supply"
	TxWithdraw    TxType = "withdraw"
	TxBorrow      TxType = "borrow"
	TxRepay       TxType = "repay"
	TxLiquidation TxType = "liquidation"
)

// Market captures the aggregate accounting and risk configuration for one
// lending asset. Amount fields are WAD-scaled big integers; rate and ratio
// fields are basis points.
type Market struct {
	ID           string
	AssetSymbol  string
	AssetAddress string
	Decimals     uint8

	TotalSupply        *big.Int
	TotalBorrowed      *big.Int
	AvailableLiquidity *big.Int
	// ExchangeRate is the WAD-scaled rate between supply shares and the
	// underlying asset. It starts at 1.0 and only grows as interest accrues.
	ExchangeRate *big.Int
	// Reserves accumulates the reserve-factor share of accrued interest.
	Reserves *big.Int

	UtilizationBps        uint64
	SupplyRateBps         uint64
	BorrowRateVariableBps uint64
	BorrowRateStableBps   uint64

	BaseRateBps            uint64
	OptimalUtilizationBps  uint64
	Slope1Bps              uint64
	Slope2Bps              uint64
	ReserveFactorBps       uint64
	StableRatePremiumBps   uint64

	CollateralFactorBps     uint64
	LiquidationThresholdBps uint64
	LiquidationPenaltyBps   uint64

	CanBeCollateral bool
	CanBeBorrowed   bool
	Status          MarketStatus

	LastAccrual time.Time
}

// EnsureDefaults populates nil aggregate fields so decoded or freshly
// provisioned markets are always safe to operate on.
func (m *Market) EnsureDefaults() {
	if m == nil {
		return
	}
	if m.TotalSupply == nil {
		m.TotalSupply = big.NewInt(0)
	}
	if m.TotalBorrowed == nil {
		m.TotalBorrowed = big.NewInt(0)
	}
	if m.AvailableLiquidity == nil {
		m.AvailableLiquidity = big.NewInt(0)
	}
	if m.ExchangeRate == nil || m.ExchangeRate.Sign() == 0 {
		m.ExchangeRate = WAD()
	}
	if m.Reserves == nil {
		m.Reserves = big.NewInt(0)
	}
	if m.Status == "" {
		m.Status = MarketActive
	}
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := *m
	clone.TotalSupply = copyBig(m.TotalSupply)
	clone.TotalBorrowed = copyBig(m.TotalBorrowed)
	clone.AvailableLiquidity = copyBig(m.AvailableLiquidity)
	clone.ExchangeRate = copyBig(m.ExchangeRate)
	clone.Reserves = copyBig(m.Reserves)
	return &clone
}

// Supply is the per-(user, market) deposit row. It is created on first supply
// and deleted when the supplied amount reaches zero.
type Supply struct {
	UserAddress    string
	MarketID       string
	SuppliedAmount *big.Int
	SuppliedShares *big.Int
	IsCollateral   bool
	UpdatedAt      time.Time
}

// Clone returns a deep copy of the supply row.
func (s *Supply) Clone() *Supply {
	if s == nil {
		return nil
	}
	clone := *s
	clone.SuppliedAmount = copyBig(s.SuppliedAmount)
	clone.SuppliedShares = copyBig(s.SuppliedShares)
	return &clone
}

// Borrow is the per-(user, market) debt row. It is deleted when fully repaid
// or fully liquidated.
type Borrow struct {
	UserAddress     string
	MarketID        string
	BorrowedAmount  *big.Int
	AccruedInterest *big.Int
	RateMode        RateMode
	UpdatedAt       time.Time
}

// Clone returns a deep copy of the borrow row.
func (b *Borrow) Clone() *Borrow {
	if b == nil {
		return nil
	}
	clone := *b
	clone.BorrowedAmount = copyBig(b.BorrowedAmount)
	clone.AccruedInterest = copyBig(b.AccruedInterest)
	return &clone
}

// Position is the cached per-user aggregate. The Supply and Borrow rows are
// authoritative; this row is recomputed from them after every mutation and by
// the periodic health sweep.
type Position struct {
	UserAddress          string
	TotalCollateralValue *big.Int
	TotalBorrowedValue   *big.Int
	HealthFactorBps      uint64
	HealthStatus         HealthStatus
	SuppliedAssetCount   int
	BorrowedAssetCount   int
	UpdatedAt            time.Time
}

// Clone returns a deep copy of the position cache row.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.TotalCollateralValue = copyBig(p.TotalCollateralValue)
	clone.TotalBorrowedValue = copyBig(p.TotalBorrowedValue)
	return &clone
}

// LiquidationRecord is the immutable audit entry written once per executed
// liquidation.
type LiquidationRecord struct {
	ID                    string
	TxHash                string
	BorrowerAddress       string
	LiquidatorAddress     string
	DebtMarketID          string
	DebtAsset             string
	CollateralMarketID    string
	CollateralAsset       string
	DebtRepaid            *big.Int
	DebtRepaidValue       *big.Int
	CollateralSeized      *big.Int
	Bonus                 *big.Int
	HealthFactorBeforeBps uint64
	HealthFactorAfterBps  uint64
	CloseFactorBps        uint64
	CreatedAt             time.Time
}

// Transaction is the append-only journal entry produced by every mutating
// operation.
type Transaction struct {
	ID                   string
	TxHash               string
	UserAddress          string
	MarketID             string
	Type                 TxType
	Amount               *big.Int
	Shares               *big.Int
	Value                *big.Int
	RateMode             RateMode
	HealthFactorAfterBps uint64
	Status               string
	CreatedAt            time.Time
}

// RatePoint is one sample of a market's rate history.
type RatePoint struct {
	MarketID              string
	SupplyRateBps         uint64
	BorrowRateVariableBps uint64
	BorrowRateStableBps   uint64
	UtilizationBps        uint64
	TotalSupply           *big.Int
	TotalBorrowed         *big.Int
	CreatedAt             time.Time
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
