package lending

import (
	"context"
	"fmt"
	"math/big"
)

// LiquidationQuote previews a liquidation without mutating state. Amounts
// are expressed in each market's underlying asset.
type LiquidationQuote struct {
	BorrowerAddress       string
	DebtMarketID          string
	CollateralMarketID    string
	HealthFactorBps       uint64
	MaxDebtRepayable      *big.Int
	DebtRepaid            *big.Int
	DebtRepaidValue       *big.Int
	CollateralSeized      *big.Int
	Bonus                 *big.Int
	EstimatedProfitValue  *big.Int
	CloseFactorBps        uint64
	LiquidationPenaltyBps uint64
}

// liquidationPlan holds everything a liquidation needs, computed once under
// the borrower and market locks so the quote and execution paths cannot
// diverge.
type liquidationPlan struct {
	debtMarket       *Market
	collateralMarket *Market
	borrowRow        *Borrow
	supplyRow        *Supply
	view             Portfolio
	healthBefore     uint64
	maxDebt          *big.Int
	debtRepaid       *big.Int
	debtValue        *big.Int
	seized           *big.Int
	sharesBurned     *big.Int
	bonus            *big.Int
}

// QuoteLiquidation previews liquidating the borrower's debt in debtMarketID
// against their collateral in collateralMarketID. debtToCover of nil or zero
// requests the maximum repayable under the close factor.
func (e *Engine) QuoteLiquidation(ctx context.Context, borrower, debtMarketID, collateralMarketID string, debtToCover *big.Int) (*LiquidationQuote, error) {
	plan, err := e.planLiquidation(ctx, borrower, debtMarketID, collateralMarketID, debtToCover)
	if err != nil {
		return nil, err
	}
	return &LiquidationQuote{
		BorrowerAddress:       borrower,
		DebtMarketID:          debtMarketID,
		CollateralMarketID:    collateralMarketID,
		HealthFactorBps:       plan.healthBefore,
		MaxDebtRepayable:      plan.maxDebt,
		DebtRepaid:            plan.debtRepaid,
		DebtRepaidValue:       plan.debtValue,
		CollateralSeized:      plan.seized,
		Bonus:                 plan.bonus,
		EstimatedProfitValue:  valueOf(plan.bonus, plan.view.Prices[collateralMarketID]),
		CloseFactorBps:        e.params.CloseFactorBps,
		LiquidationPenaltyBps: plan.collateralMarket.LiquidationPenaltyBps,
	}, nil
}

// Liquidate repays part of an unhealthy borrower's debt and seizes their
// collateral plus the penalty bonus. The health factor is re-verified under
// the borrower's lock immediately before the ledger is touched, so a quote
// computed against a stale position cannot execute.
func (e *Engine) Liquidate(ctx context.Context, liquidator, borrower, debtMarketID, collateralMarketID string, debtToCover *big.Int) (rec *LiquidationRecord, tx *Transaction, err error) {
	defer func() { e.record("liquidate", err) }()
	if liquidator == "" || liquidator == borrower {
		return nil, nil, fmt.Errorf("%w: liquidator must differ from borrower", ErrInvalidState)
	}
	unlockUser := e.users.lock(borrower)
	defer unlockUser()
	unlockMarkets := e.markets.lockAll(debtMarketID, collateralMarketID)
	defer unlockMarkets()

	plan, err := e.planLiquidation(ctx, borrower, debtMarketID, collateralMarketID, debtToCover)
	if err != nil {
		return nil, nil, err
	}

	// Debt side: the liquidator repays, freeing liquidity.
	borrowRow := plan.borrowRow
	borrowRow.BorrowedAmount = new(big.Int).Sub(borrowRow.BorrowedAmount, plan.debtRepaid)
	borrowRow.UpdatedAt = e.now()
	if borrowRow.BorrowedAmount.Sign() == 0 {
		if err := e.state.DeleteBorrow(borrower, debtMarketID); err != nil {
			return nil, nil, err
		}
	} else if err := e.state.PutBorrow(borrowRow); err != nil {
		return nil, nil, err
	}

	// Collateral side: seized collateral leaves the borrower's supply and the
	// market's books entirely.
	supplyRow := plan.supplyRow
	supplyRow.SuppliedAmount = new(big.Int).Sub(supplyRow.SuppliedAmount, plan.seized)
	supplyRow.SuppliedShares = clampZero(new(big.Int).Sub(supplyRow.SuppliedShares, plan.sharesBurned))
	supplyRow.UpdatedAt = e.now()
	if supplyRow.SuppliedAmount.Sign() <= 0 {
		if err := e.state.DeleteSupply(borrower, collateralMarketID); err != nil {
			return nil, nil, err
		}
	} else if err := e.state.PutSupply(supplyRow); err != nil {
		return nil, nil, err
	}

	debtMarket := plan.debtMarket
	debtMarket.TotalBorrowed = clampZero(new(big.Int).Sub(debtMarket.TotalBorrowed, plan.debtRepaid))
	debtMarket.AvailableLiquidity = new(big.Int).Add(debtMarket.AvailableLiquidity, plan.debtRepaid)
	if err := e.refreshMarket(debtMarket); err != nil {
		return nil, nil, err
	}
	collateralMarket := plan.collateralMarket
	collateralMarket.TotalSupply = clampZero(new(big.Int).Sub(collateralMarket.TotalSupply, plan.seized))
	collateralMarket.AvailableLiquidity = clampZero(new(big.Int).Sub(collateralMarket.AvailableLiquidity, plan.seized))
	if err := e.refreshMarket(collateralMarket); err != nil {
		return nil, nil, err
	}

	position, err := e.recomputePosition(ctx, borrower)
	if err != nil {
		return nil, nil, err
	}
	healthAfter := positionHealth(position)

	rec = &LiquidationRecord{
		ID:                    newID(),
		TxHash:                newTxHash(),
		BorrowerAddress:       borrower,
		LiquidatorAddress:     liquidator,
		DebtMarketID:          debtMarketID,
		DebtAsset:             debtMarket.AssetSymbol,
		CollateralMarketID:    collateralMarketID,
		CollateralAsset:       collateralMarket.AssetSymbol,
		DebtRepaid:            plan.debtRepaid,
		DebtRepaidValue:       plan.debtValue,
		CollateralSeized:      plan.seized,
		Bonus:                 plan.bonus,
		HealthFactorBeforeBps: plan.healthBefore,
		HealthFactorAfterBps:  healthAfter,
		CloseFactorBps:        e.params.CloseFactorBps,
		CreatedAt:             e.now(),
	}
	if err := e.state.AppendLiquidation(rec); err != nil {
		return nil, nil, err
	}
	tx = &Transaction{
		TxHash:               rec.TxHash,
		UserAddress:          liquidator,
		MarketID:             debtMarketID,
		Type:                 TxLiquidation,
		Amount:               copyBig(plan.debtRepaid),
		Value:                copyBig(plan.debtValue),
		HealthFactorAfterBps: healthAfter,
	}
	if err := e.journal(tx); err != nil {
		return nil, nil, err
	}
	e.logger.Info("lending liquidation",
		"borrower", borrower, "liquidator", liquidator,
		"debt_market", debtMarketID, "collateral_market", collateralMarketID,
		"repaid", plan.debtRepaid.String(), "seized", plan.seized.String(),
		"health_before_bps", plan.healthBefore, "health_after_bps", healthAfter)
	return rec, tx, nil
}

// planLiquidation validates liquidatability and computes the repay and
// seizure amounts.
//
// The seizure converts the repaid debt value into collateral units and grows
// it by the liquidation penalty. The bonus is the seizure minus the exact
// debt-equivalent collateral, so it is the liquidator's surplus even when the
// seizure is clamped to the borrower's balance.
func (e *Engine) planLiquidation(ctx context.Context, borrower, debtMarketID, collateralMarketID string, debtToCover *big.Int) (*liquidationPlan, error) {
	if debtMarketID == collateralMarketID {
		return nil, fmt.Errorf("%w: debt and collateral markets must differ", ErrInvalidState)
	}
	view, err := e.portfolio(ctx, borrower)
	if err != nil {
		return nil, err
	}
	healthBefore := view.HealthFactorBps()
	if healthBefore >= MinHealthFactorBps {
		return nil, fmt.Errorf("%w: health factor %d bps", ErrNotLiquidatable, healthBefore)
	}

	debtMarket := view.Markets[debtMarketID]
	if debtMarket == nil {
		if debtMarket, err = e.market(debtMarketID); err != nil {
			return nil, err
		}
	}
	collateralMarket := view.Markets[collateralMarketID]
	if collateralMarket == nil {
		return nil, fmt.Errorf("%w: %s holds no collateral in %q", ErrNotFound, borrower, collateralMarketID)
	}

	var borrowRow *Borrow
	for _, b := range view.Borrows {
		if b.MarketID == debtMarketID {
			borrowRow = b
			break
		}
	}
	if borrowRow == nil || borrowRow.BorrowedAmount.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s has no debt in %q", ErrNoDebt, borrower, debtMarketID)
	}
	var supplyRow *Supply
	for _, s := range view.Supplies {
		if s.MarketID == collateralMarketID {
			supplyRow = s
			break
		}
	}
	if supplyRow == nil || supplyRow.SuppliedAmount.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s holds no collateral in %q", ErrNotFound, borrower, collateralMarketID)
	}
	if !supplyRow.IsCollateral {
		return nil, fmt.Errorf("%w: supply in %q is not flagged as collateral", ErrInvalidState, collateralMarketID)
	}

	maxDebt := bpsShare(borrowRow.BorrowedAmount, e.params.CloseFactorBps)
	if maxDebt.Sign() == 0 {
		maxDebt = copyBig(borrowRow.BorrowedAmount)
	}
	debtRepaid := maxDebt
	if validAmount(debtToCover) {
		debtRepaid = minBig(debtToCover, maxDebt)
	}

	debtPrice := view.Prices[debtMarketID]
	collateralPrice := view.Prices[collateralMarketID]
	debtValue := valueOf(debtRepaid, debtPrice)
	debtEquivalent := amountOf(debtValue, collateralPrice)
	seized := bpsShare(debtEquivalent, BasisPointsMax+collateralMarket.LiquidationPenaltyBps)
	if seized.Cmp(supplyRow.SuppliedAmount) > 0 {
		seized = copyBig(supplyRow.SuppliedAmount)
	}
	if seized.Cmp(collateralMarket.AvailableLiquidity) > 0 {
		return nil, fmt.Errorf("%w: collateral market %q", ErrInsufficientLiquidity, collateralMarketID)
	}
	bonus := clampZero(new(big.Int).Sub(seized, debtEquivalent))
	sharesBurned := minBig(sharesFor(seized, collateralMarket.ExchangeRate), supplyRow.SuppliedShares)

	return &liquidationPlan{
		debtMarket:       debtMarket,
		collateralMarket: collateralMarket,
		borrowRow:        borrowRow,
		supplyRow:        supplyRow,
		view:             view,
		healthBefore:     healthBefore,
		maxDebt:          maxDebt,
		debtRepaid:       debtRepaid,
		debtValue:        debtValue,
		seized:           seized,
		sharesBurned:     sharesBurned,
		bonus:            bonus,
	}, nil
}
