package server

import (
	"fmt"
	"math/big"
	"time"

	"lendcore/native/lending"
)

// Wire payloads carry WAD-scaled amounts as decimal strings; JSON numbers
// cannot represent them.

type marketPayload struct {
	ID                      string `json:"id"`
	AssetSymbol             string `json:"assetSymbol"`
	AssetAddress            string `json:"assetAddress,omitempty"`
	Decimals                uint8  `json:"decimals"`
	TotalSupply             string `json:"totalSupply"`
	TotalBorrowed           string `json:"totalBorrowed"`
	AvailableLiquidity      string `json:"availableLiquidity"`
	ExchangeRate            string `json:"exchangeRate"`
	Reserves                string `json:"reserves"`
	UtilizationBps          uint64 `json:"utilizationBps"`
	SupplyRateBps           uint64 `json:"supplyRateBps"`
	BorrowRateVariableBps   uint64 `json:"borrowRateVariableBps"`
	BorrowRateStableBps     uint64 `json:"borrowRateStableBps"`
	CollateralFactorBps     uint64 `json:"collateralFactorBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	LiquidationPenaltyBps   uint64 `json:"liquidationPenaltyBps"`
	CanBeCollateral         bool   `json:"canBeCollateral"`
	CanBeBorrowed           bool   `json:"canBeBorrowed"`
	Status                  string `json:"status"`
}

func marketToPayload(m *lending.Market) marketPayload {
	return marketPayload{
		ID:                      m.ID,
		AssetSymbol:             m.AssetSymbol,
		AssetAddress:            m.AssetAddress,
		Decimals:                m.Decimals,
		TotalSupply:             bigString(m.TotalSupply),
		TotalBorrowed:           bigString(m.TotalBorrowed),
		AvailableLiquidity:      bigString(m.AvailableLiquidity),
		ExchangeRate:            bigString(m.ExchangeRate),
		Reserves:                bigString(m.Reserves),
		UtilizationBps:          m.UtilizationBps,
		SupplyRateBps:           m.SupplyRateBps,
		BorrowRateVariableBps:   m.BorrowRateVariableBps,
		BorrowRateStableBps:     m.BorrowRateStableBps,
		CollateralFactorBps:     m.CollateralFactorBps,
		LiquidationThresholdBps: m.LiquidationThresholdBps,
		LiquidationPenaltyBps:   m.LiquidationPenaltyBps,
		CanBeCollateral:         m.CanBeCollateral,
		CanBeBorrowed:           m.CanBeBorrowed,
		Status:                  string(m.Status),
	}
}

type createMarketRequest struct {
	ID                      string `json:"id"`
	AssetSymbol             string `json:"assetSymbol"`
	AssetAddress            string `json:"assetAddress"`
	Decimals                uint8  `json:"decimals"`
	BaseRateBps             uint64 `json:"baseRateBps"`
	OptimalUtilizationBps   uint64 `json:"optimalUtilizationBps"`
	Slope1Bps               uint64 `json:"slope1Bps"`
	Slope2Bps               uint64 `json:"slope2Bps"`
	ReserveFactorBps        uint64 `json:"reserveFactorBps"`
	StableRatePremiumBps    uint64 `json:"stableRatePremiumBps"`
	CollateralFactorBps     uint64 `json:"collateralFactorBps"`
	LiquidationThresholdBps uint64 `json:"liquidationThresholdBps"`
	LiquidationPenaltyBps   uint64 `json:"liquidationPenaltyBps"`
	CanBeCollateral         bool   `json:"canBeCollateral"`
	CanBeBorrowed           bool   `json:"canBeBorrowed"`
}

func (r createMarketRequest) toMarket() *lending.Market {
	return &lending.Market{
		ID:                      r.ID,
		AssetSymbol:             r.AssetSymbol,
		AssetAddress:            r.AssetAddress,
		Decimals:                r.Decimals,
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
	}
}

type amountRequest struct {
	UserAddress  string `json:"userAddress"`
	MarketID     string `json:"marketId"`
	Amount       string `json:"amount"`
	AsCollateral bool   `json:"asCollateral,omitempty"`
	RateMode     string `json:"rateMode,omitempty"`
}

func (r amountRequest) amount() (*big.Int, error) {
	return parseAmount(r.Amount)
}

type liquidateRequest struct {
	LiquidatorAddress  string `json:"liquidatorAddress"`
	BorrowerAddress    string `json:"borrowerAddress"`
	DebtMarketID       string `json:"debtMarketId"`
	CollateralMarketID string `json:"collateralMarketId"`
	DebtToCover        string `json:"debtToCover,omitempty"`
}

type transactionPayload struct {
	ID                   string    `json:"id"`
	TxHash               string    `json:"txHash"`
	UserAddress          string    `json:"userAddress"`
	MarketID             string    `json:"marketId"`
	Type                 string    `json:"type"`
	Amount               string    `json:"amount"`
	Shares               string    `json:"shares,omitempty"`
	Value                string    `json:"value"`
	RateMode             string    `json:"rateMode,omitempty"`
	HealthFactorAfterBps uint64    `json:"healthFactorAfterBps"`
	Status               string    `json:"status"`
	CreatedAt            time.Time `json:"createdAt"`
}

func transactionToPayload(tx *lending.Transaction) transactionPayload {
	return transactionPayload{
		ID:                   tx.ID,
		TxHash:               tx.TxHash,
		UserAddress:          tx.UserAddress,
		MarketID:             tx.MarketID,
		Type:                 string(tx.Type),
		Amount:               bigString(tx.Amount),
		Shares:               optBigString(tx.Shares),
		Value:                bigString(tx.Value),
		RateMode:             string(tx.RateMode),
		HealthFactorAfterBps: tx.HealthFactorAfterBps,
		Status:               tx.Status,
		CreatedAt:            tx.CreatedAt,
	}
}

type liquidationPayload struct {
	ID                    string    `json:"id"`
	TxHash                string    `json:"txHash"`
	BorrowerAddress       string    `json:"borrowerAddress"`
	LiquidatorAddress     string    `json:"liquidatorAddress"`
	DebtMarketID          string    `json:"debtMarketId"`
	CollateralMarketID    string    `json:"collateralMarketId"`
	DebtRepaid            string    `json:"debtRepaid"`
	DebtRepaidValue       string    `json:"debtRepaidValue"`
	CollateralSeized      string    `json:"collateralSeized"`
	Bonus                 string    `json:"bonus"`
	HealthFactorBeforeBps uint64    `json:"healthFactorBeforeBps"`
	HealthFactorAfterBps  uint64    `json:"healthFactorAfterBps"`
	CloseFactorBps        uint64    `json:"closeFactorBps"`
	CreatedAt             time.Time `json:"createdAt"`
}

func liquidationToPayload(rec *lending.LiquidationRecord) liquidationPayload {
	return liquidationPayload{
		ID:                    rec.ID,
		TxHash:                rec.TxHash,
		BorrowerAddress:       rec.BorrowerAddress,
		LiquidatorAddress:     rec.LiquidatorAddress,
		DebtMarketID:          rec.DebtMarketID,
		CollateralMarketID:    rec.CollateralMarketID,
		DebtRepaid:            bigString(rec.DebtRepaid),
		DebtRepaidValue:       bigString(rec.DebtRepaidValue),
		CollateralSeized:      bigString(rec.CollateralSeized),
		Bonus:                 bigString(rec.Bonus),
		HealthFactorBeforeBps: rec.HealthFactorBeforeBps,
		HealthFactorAfterBps:  rec.HealthFactorAfterBps,
		CloseFactorBps:        rec.CloseFactorBps,
		CreatedAt:             rec.CreatedAt,
	}
}

type supplyDetailPayload struct {
	MarketID       string `json:"marketId"`
	AssetSymbol    string `json:"assetSymbol"`
	SuppliedAmount string `json:"suppliedAmount"`
	SuppliedShares string `json:"suppliedShares"`
	Value          string `json:"value"`
	SupplyRateBps  uint64 `json:"supplyRateBps"`
	IsCollateral   bool   `json:"isCollateral"`
}

type borrowDetailPayload struct {
	MarketID        string `json:"marketId"`
	AssetSymbol     string `json:"assetSymbol"`
	BorrowedAmount  string `json:"borrowedAmount"`
	AccruedInterest string `json:"accruedInterest"`
	Value           string `json:"value"`
	RateBps         uint64 `json:"rateBps"`
	RateMode        string `json:"rateMode"`
}

type positionPayload struct {
	UserAddress          string                `json:"userAddress"`
	TotalSuppliedValue   string                `json:"totalSuppliedValue"`
	TotalCollateralValue string                `json:"totalCollateralValue"`
	TotalBorrowedValue   string                `json:"totalBorrowedValue"`
	HealthFactorBps      uint64                `json:"healthFactorBps"`
	HealthStatus         string                `json:"healthStatus"`
	BorrowCapacity       string                `json:"borrowCapacity"`
	NetAPYBps            int64                 `json:"netApyBps"`
	Supplies             []supplyDetailPayload `json:"supplies"`
	Borrows              []borrowDetailPayload `json:"borrows"`
}

func positionToPayload(p *lending.PositionSummary) positionPayload {
	out := positionPayload{
		UserAddress:          p.UserAddress,
		TotalSuppliedValue:   bigString(p.TotalSuppliedValue),
		TotalCollateralValue: bigString(p.TotalCollateralValue),
		TotalBorrowedValue:   bigString(p.TotalBorrowedValue),
		HealthFactorBps:      p.HealthFactorBps,
		HealthStatus:         string(p.HealthStatus),
		BorrowCapacity:       bigString(p.BorrowCapacity),
		NetAPYBps:            p.NetAPYBps,
		Supplies:             make([]supplyDetailPayload, 0, len(p.Supplies)),
		Borrows:              make([]borrowDetailPayload, 0, len(p.Borrows)),
	}
	for _, s := range p.Supplies {
		out.Supplies = append(out.Supplies, supplyDetailPayload{
			MarketID:       s.MarketID,
			AssetSymbol:    s.AssetSymbol,
			SuppliedAmount: bigString(s.SuppliedAmount),
			SuppliedShares: bigString(s.SuppliedShares),
			Value:          bigString(s.Value),
			SupplyRateBps:  s.SupplyRateBps,
			IsCollateral:   s.IsCollateral,
		})
	}
	for _, b := range p.Borrows {
		out.Borrows = append(out.Borrows, borrowDetailPayload{
			MarketID:        b.MarketID,
			AssetSymbol:     b.AssetSymbol,
			BorrowedAmount:  bigString(b.BorrowedAmount),
			AccruedInterest: bigString(b.AccruedInterest),
			Value:           bigString(b.Value),
			RateBps:         b.RateBps,
			RateMode:        string(b.RateMode),
		})
	}
	return out
}

type positionBriefPayload struct {
	UserAddress          string    `json:"userAddress"`
	TotalCollateralValue string    `json:"totalCollateralValue"`
	TotalBorrowedValue   string    `json:"totalBorrowedValue"`
	HealthFactorBps      uint64    `json:"healthFactorBps"`
	HealthStatus         string    `json:"healthStatus"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

func positionBrief(p *lending.Position) positionBriefPayload {
	return positionBriefPayload{
		UserAddress:          p.UserAddress,
		TotalCollateralValue: bigString(p.TotalCollateralValue),
		TotalBorrowedValue:   bigString(p.TotalBorrowedValue),
		HealthFactorBps:      p.HealthFactorBps,
		HealthStatus:         string(p.HealthStatus),
		UpdatedAt:            p.UpdatedAt,
	}
}

type ratePointPayload struct {
	MarketID              string    `json:"marketId"`
	SupplyRateBps         uint64    `json:"supplyRateBps"`
	BorrowRateVariableBps uint64    `json:"borrowRateVariableBps"`
	BorrowRateStableBps   uint64    `json:"borrowRateStableBps"`
	UtilizationBps        uint64    `json:"utilizationBps"`
	TotalSupply           string    `json:"totalSupply"`
	TotalBorrowed         string    `json:"totalBorrowed"`
	CreatedAt             time.Time `json:"createdAt"`
}

func ratePointToPayload(p *lending.RatePoint) ratePointPayload {
	return ratePointPayload{
		MarketID:              p.MarketID,
		SupplyRateBps:         p.SupplyRateBps,
		BorrowRateVariableBps: p.BorrowRateVariableBps,
		BorrowRateStableBps:   p.BorrowRateStableBps,
		UtilizationBps:        p.UtilizationBps,
		TotalSupply:           bigString(p.TotalSupply),
		TotalBorrowed:         bigString(p.TotalBorrowed),
		CreatedAt:             p.CreatedAt,
	}
}

type statsPayload struct {
	TotalValueLocked   string `json:"totalValueLocked"`
	TotalBorrowedValue string `json:"totalBorrowedValue"`
	TotalReservesValue string `json:"totalReservesValue"`
	MarketCount        int    `json:"marketCount"`
	ActiveMarketCount  int    `json:"activeMarketCount"`
	UserCount          int    `json:"userCount"`
	AtRiskCount        int    `json:"atRiskCount"`
	LiquidatableCount  int    `json:"liquidatableCount"`
	AvgSupplyRateBps   uint64 `json:"avgSupplyRateBps"`
	AvgBorrowRateBps   uint64 `json:"avgBorrowRateBps"`
}

func statsToPayload(s *lending.Stats) statsPayload {
	return statsPayload{
		TotalValueLocked:   bigString(s.TotalValueLocked),
		TotalBorrowedValue: bigString(s.TotalBorrowedValue),
		TotalReservesValue: bigString(s.TotalReservesValue),
		MarketCount:        s.MarketCount,
		ActiveMarketCount:  s.ActiveMarketCount,
		UserCount:          s.UserCount,
		AtRiskCount:        s.AtRiskCount,
		LiquidatableCount:  s.LiquidatableCount,
		AvgSupplyRateBps:   s.AvgSupplyRateBps,
		AvgBorrowRateBps:   s.AvgBorrowRateBps,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func optBigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount is required")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	return v, nil
}

func parseOptionalAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseAmount(s)
}
