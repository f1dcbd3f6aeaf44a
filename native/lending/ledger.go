package lending

import (
	"context"
	"fmt"
	"math/big"
)

// SupplyQuote previews a deposit without mutating state.
type SupplyQuote struct {
	MarketID        string
	Amount          *big.Int
	Shares          *big.Int
	Value           *big.Int
	SupplyRateBps   uint64
	EstimatedYearly *big.Int
}

// WithdrawQuote previews a withdrawal without mutating state.
type WithdrawQuote struct {
	MarketID           string
	Amount             *big.Int
	SharesBurned       *big.Int
	Value              *big.Int
	NewHealthFactorBps uint64
}

// BorrowQuote previews a borrow without mutating state.
type BorrowQuote struct {
	MarketID           string
	Amount             *big.Int
	Value              *big.Int
	BorrowRateBps      uint64
	NewHealthFactorBps uint64
	RemainingCapacity  *big.Int
	EstimatedYearly    *big.Int
}

// RepayQuote previews a repayment without mutating state. Amount is the
// portion that would actually be applied after clamping to outstanding debt.
type RepayQuote struct {
	MarketID           string
	Amount             *big.Int
	RemainingDebt      *big.Int
	NewHealthFactorBps uint64
}

// QuoteSupply previews depositing amount into the market.
func (e *Engine) QuoteSupply(ctx context.Context, marketID string, amount *big.Int) (*SupplyQuote, error) {
	if !validAmount(amount) {
		return nil, fmt.Errorf("%w: supply amount must be positive", ErrInvalidAmount)
	}
	market, err := e.market(marketID)
	if err != nil {
		return nil, err
	}
	if market.Status != MarketActive {
		return nil, fmt.Errorf("%w: market %q is %s", ErrInvalidState, marketID, market.Status)
	}
	price, err := e.price(ctx, market)
	if err != nil {
		return nil, err
	}
	return &SupplyQuote{
		MarketID:        marketID,
		Amount:          copyBig(amount),
		Shares:          sharesFor(amount, market.ExchangeRate),
		Value:           valueOf(amount, price),
		SupplyRateBps:   market.SupplyRateBps,
		EstimatedYearly: bpsShare(amount, market.SupplyRateBps),
	}, nil
}

// Supply deposits amount into the market for the user, crediting shares at
// the current exchange rate. The collateral flag only sticks when the market
// allows collateral use.
func (e *Engine) Supply(ctx context.Context, user, marketID string, amount *big.Int, asCollateral bool) (row *Supply, tx *Transaction, err error) {
	defer func() { e.record("supply", err) }()
	if !validAmount(amount) {
		return nil, nil, fmt.Errorf("%w: supply amount must be positive", ErrInvalidAmount)
	}
	unlockUser := e.users.lock(user)
	defer unlockUser()
	unlockMarket := e.markets.lock(marketID)
	defer unlockMarket()

	market, err := e.market(marketID)
	if err != nil {
		return nil, nil, err
	}
	if market.Status != MarketActive {
		return nil, nil, fmt.Errorf("%w: market %q is %s", ErrInvalidState, marketID, market.Status)
	}
	price, err := e.price(ctx, market)
	if err != nil {
		return nil, nil, err
	}
	shares := sharesFor(amount, market.ExchangeRate)

	row, err = e.state.GetSupply(user, marketID)
	if err != nil {
		return nil, nil, err
	}
	if row == nil {
		row = &Supply{
			UserAddress:    user,
			MarketID:       marketID,
			SuppliedAmount: big.NewInt(0),
			SuppliedShares: big.NewInt(0),
		}
	}
	row.SuppliedAmount = new(big.Int).Add(row.SuppliedAmount, amount)
	row.SuppliedShares = new(big.Int).Add(row.SuppliedShares, shares)
	row.IsCollateral = asCollateral && market.CanBeCollateral
	row.UpdatedAt = e.now()
	if err := e.state.PutSupply(row); err != nil {
		return nil, nil, err
	}

	market.TotalSupply = new(big.Int).Add(market.TotalSupply, amount)
	market.AvailableLiquidity = new(big.Int).Add(market.AvailableLiquidity, amount)
	if err := e.refreshMarket(market); err != nil {
		return nil, nil, err
	}

	position, err := e.recomputePosition(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	tx = &Transaction{
		UserAddress:         user,
		MarketID:            marketID,
		Type:                TxSupply,
		Amount:              copyBig(amount),
		Shares:              shares,
		Value:               valueOf(amount, price),
		HealthFactorAfterBps: positionHealth(position),
	}
	if err := e.journal(tx); err != nil {
		return nil, nil, err
	}
	e.logger.Info("lending supply",
		"user", user, "market", marketID,
		"amount", amount.String(), "health_bps", tx.HealthFactorAfterBps)
	return row, tx, nil
}

// QuoteWithdraw previews withdrawing amount. It fails with the same errors a
// real withdrawal would, including the post-withdrawal health check.
func (e *Engine) QuoteWithdraw(ctx context.Context, user, marketID string, amount *big.Int) (*WithdrawQuote, error) {
	if !validAmount(amount) {
		return nil, fmt.Errorf("%w: withdraw amount must be positive", ErrInvalidAmount)
	}
	market, err := e.market(marketID)
	if err != nil {
		return nil, err
	}
	row, err := e.state.GetSupply(user, marketID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: no supply for %s in %q", ErrNotFound, user, marketID)
	}
	price, err := e.price(ctx, market)
	if err != nil {
		return nil, err
	}
	hf, err := e.checkWithdraw(ctx, market, row, amount, price)
	if err != nil {
		return nil, err
	}
	return &WithdrawQuote{
		MarketID:           marketID,
		Amount:             copyBig(amount),
		SharesBurned:       sharesFor(amount, market.ExchangeRate),
		Value:              valueOf(amount, price),
		NewHealthFactorBps: hf,
	}, nil
}

// Withdraw redeems amount of the user's supplied balance. Collateral backing
// outstanding debt may only be withdrawn down to the liquidation floor.
func (e *Engine) Withdraw(ctx context.Context, user, marketID string, amount *big.Int) (tx *Transaction, err error) {
	defer func() { e.record("withdraw", err) }()
	if !validAmount(amount) {
		return nil, fmt.Errorf("%w: withdraw amount must be positive", ErrInvalidAmount)
	}
	unlockUser := e.users.lock(user)
	defer unlockUser()
	unlockMarket := e.markets.lock(marketID)
	defer unlockMarket()

	market, err := e.market(marketID)
	if err != nil {
		return nil, err
	}
	row, err := e.state.GetSupply(user, marketID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: no supply for %s in %q", ErrNotFound, user, marketID)
	}
	price, err := e.price(ctx, market)
	if err != nil {
		return nil, err
	}
	if _, err := e.checkWithdraw(ctx, market, row, amount, price); err != nil {
		return nil, err
	}

	shares := minBig(sharesFor(amount, market.ExchangeRate), row.SuppliedShares)
	row.SuppliedAmount = new(big.Int).Sub(row.SuppliedAmount, amount)
	row.SuppliedShares = new(big.Int).Sub(row.SuppliedShares, shares)
	row.UpdatedAt = e.now()
	if row.SuppliedAmount.Sign() <= 0 {
		if err := e.state.DeleteSupply(user, marketID); err != nil {
			return nil, err
		}
	} else if err := e.state.PutSupply(row); err != nil {
		return nil, err
	}

	market.TotalSupply = clampZero(new(big.Int).Sub(market.TotalSupply, amount))
	market.AvailableLiquidity = clampZero(new(big.Int).Sub(market.AvailableLiquidity, amount))
	if err := e.refreshMarket(market); err != nil {
		return nil, err
	}

	position, err := e.recomputePosition(ctx, user)
	if err != nil {
		return nil, err
	}
	tx = &Transaction{
		UserAddress:         user,
		MarketID:            marketID,
		Type:                TxWithdraw,
		Amount:              copyBig(amount),
		Shares:              shares,
		Value:               valueOf(amount, price),
		HealthFactorAfterBps: positionHealth(position),
	}
	if err := e.journal(tx); err != nil {
		return nil, err
	}
	e.logger.Info("lending withdraw",
		"user", user, "market", marketID,
		"amount", amount.String(), "health_bps", tx.HealthFactorAfterBps)
	return tx, nil
}

// checkWithdraw validates a withdrawal against the supplied balance, market
// liquidity, and, for collateral backing debt, the post-withdrawal health
// factor. It returns the projected health factor.
func (e *Engine) checkWithdraw(ctx context.Context, market *Market, row *Supply, amount, price *big.Int) (uint64, error) {
	if amount.Cmp(row.SuppliedAmount) > 0 {
		return 0, fmt.Errorf("%w: withdraw exceeds supplied balance", ErrInvalidAmount)
	}
	if amount.Cmp(market.AvailableLiquidity) > 0 {
		return 0, fmt.Errorf("%w: market %q", ErrInsufficientLiquidity, market.ID)
	}
	if !row.IsCollateral {
		return MaxHealthFactorBps, nil
	}
	view, err := e.portfolio(ctx, row.UserAddress)
	if err != nil {
		return 0, err
	}
	if len(view.Borrows) == 0 {
		return MaxHealthFactorBps, nil
	}
	weighted := view.WeightedCollateral()
	removed := bpsShare(valueOf(amount, price), market.LiquidationThresholdBps)
	weighted.Sub(weighted, removed)
	hf := healthFactorBps(clampZero(weighted), view.BorrowedValue())
	if hf < MinHealthFactorBps {
		return 0, fmt.Errorf("%w: withdrawal would leave position liquidatable", ErrExceedsCapacity)
	}
	return hf, nil
}

// QuoteBorrow previews borrowing amount, enforcing the same liquidity,
// capacity, and health checks as the real borrow.
func (e *Engine) QuoteBorrow(ctx context.Context, user, marketID string, amount *big.Int) (*BorrowQuote, error) {
	if !validAmount(amount) {
		return nil, fmt.Errorf("%w: borrow amount must be positive", ErrInvalidAmount)
	}
	market, err := e.market(marketID)
	if err != nil {
		return nil, err
	}
	price, err := e.price(ctx, market)
	if err != nil {
		return nil, err
	}
	view, err := e.portfolio(ctx, user)
	if err != nil {
		return nil, err
	}
	hf, err := e.checkBorrow(market, view, amount, price)
	if err != nil {
		return nil, err
	}
	value := valueOf(amount, price)
	remaining := view.BorrowCapacity()
	remaining.Sub(remaining, value)
	return &BorrowQuote{
		MarketID:           marketID,
		Amount:             copyBig(amount),
		Value:              value,
		BorrowRateBps:      market.BorrowRateVariableBps,
		NewHealthFactorBps: hf,
		RemainingCapacity:  clampZero(remaining),
		EstimatedYearly:    bpsShare(amount, market.BorrowRateVariableBps),
	}, nil
}

// Borrow draws amount from the market against the user's collateral. Checks
// run in a fixed order: market state, liquidity, capacity, then the
// post-borrow health factor.
func (e *Engine) Borrow(ctx context.Context, user, marketID string, amount *big.Int, mode RateMode) (row *Borrow, tx *Transaction, err error) {
	defer func() { e.record("borrow", err) }()
	if !validAmount(amount) {
		return nil, nil, fmt.Errorf("%w: borrow amount must be positive", ErrInvalidAmount)
	}
	switch mode {
	case "":
		mode = RateModeVariable
	case RateModeVariable, RateModeStable:
	default:
		return nil, nil, fmt.Errorf("%w: unknown rate mode %q", ErrInvalidState, mode)
	}
	unlockUser := e.users.lock(user)
	defer unlockUser()
	unlockMarket := e.markets.lock(marketID)
	defer unlockMarket()

	market, err := e.market(marketID)
	if err != nil {
		return nil, nil, err
	}
	price, err := e.price(ctx, market)
	if err != nil {
		return nil, nil, err
	}
	view, err := e.portfolio(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	hf, err := e.checkBorrow(market, view, amount, price)
	if err != nil {
		return nil, nil, err
	}

	row, err = e.state.GetBorrow(user, marketID)
	if err != nil {
		return nil, nil, err
	}
	if row == nil {
		row = &Borrow{
			UserAddress:     user,
			MarketID:        marketID,
			BorrowedAmount:  big.NewInt(0),
			AccruedInterest: big.NewInt(0),
			RateMode:        mode,
		}
	}
	row.BorrowedAmount = new(big.Int).Add(row.BorrowedAmount, amount)
	row.RateMode = mode
	row.UpdatedAt = e.now()
	if err := e.state.PutBorrow(row); err != nil {
		return nil, nil, err
	}

	market.TotalBorrowed = new(big.Int).Add(market.TotalBorrowed, amount)
	market.AvailableLiquidity = clampZero(new(big.Int).Sub(market.AvailableLiquidity, amount))
	if err := e.refreshMarket(market); err != nil {
		return nil, nil, err
	}

	position, err := e.recomputePosition(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	tx = &Transaction{
		UserAddress:         user,
		MarketID:            marketID,
		Type:                TxBorrow,
		Amount:              copyBig(amount),
		Value:               valueOf(amount, price),
		RateMode:            mode,
		HealthFactorAfterBps: positionHealth(position),
	}
	if err := e.journal(tx); err != nil {
		return nil, nil, err
	}
	e.logger.Info("lending borrow",
		"user", user, "market", marketID, "mode", string(mode),
		"amount", amount.String(), "health_bps", tx.HealthFactorAfterBps, "projected_bps", hf)
	return row, tx, nil
}

// checkBorrow validates a borrow against market state, available liquidity,
// borrow capacity, and the projected health factor, returning the latter.
func (e *Engine) checkBorrow(market *Market, view Portfolio, amount, price *big.Int) (uint64, error) {
	if market.Status != MarketActive {
		return 0, fmt.Errorf("%w: market %q is %s", ErrInvalidState, market.ID, market.Status)
	}
	if !market.CanBeBorrowed {
		return 0, fmt.Errorf("%w: market %q is not borrowable", ErrInvalidState, market.ID)
	}
	if amount.Cmp(market.AvailableLiquidity) > 0 {
		return 0, fmt.Errorf("%w: market %q", ErrInsufficientLiquidity, market.ID)
	}
	value := valueOf(amount, price)
	if value.Cmp(view.BorrowCapacity()) > 0 {
		return 0, fmt.Errorf("%w: borrow value exceeds capacity", ErrExceedsCapacity)
	}
	borrowed := view.BorrowedValue()
	borrowed.Add(borrowed, value)
	hf := healthFactorBps(view.WeightedCollateral(), borrowed)
	if hf < MinHealthFactorBps {
		return 0, fmt.Errorf("%w: borrow would leave position liquidatable", ErrExceedsCapacity)
	}
	return hf, nil
}

// QuoteRepay previews repaying up to amount of the user's debt.
func (e *Engine) QuoteRepay(ctx context.Context, user, marketID string, amount *big.Int) (*RepayQuote, error) {
	if !validAmount(amount) {
		return nil, fmt.Errorf("%w: repay amount must be positive", ErrInvalidAmount)
	}
	market, err := e.market(marketID)
	if err != nil {
		return nil, err
	}
	row, err := e.state.GetBorrow(user, marketID)
	if err != nil {
		return nil, err
	}
	if row == nil || row.BorrowedAmount.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s has no debt in %q", ErrNoDebt, user, marketID)
	}
	price, err := e.price(ctx, market)
	if err != nil {
		return nil, err
	}
	actual := minBig(amount, row.BorrowedAmount)
	view, err := e.portfolio(ctx, user)
	if err != nil {
		return nil, err
	}
	borrowed := view.BorrowedValue()
	borrowed.Sub(borrowed, valueOf(actual, price))
	return &RepayQuote{
		MarketID:           marketID,
		Amount:             actual,
		RemainingDebt:      new(big.Int).Sub(row.BorrowedAmount, actual),
		NewHealthFactorBps: healthFactorBps(view.WeightedCollateral(), clampZero(borrowed)),
	}, nil
}

// Repay pays down the user's debt in the market. Overpayment is clamped to
// the outstanding balance; clearing the balance removes the borrow row.
func (e *Engine) Repay(ctx context.Context, user, marketID string, amount *big.Int) (tx *Transaction, err error) {
	defer func() { e.record("repay", err) }()
	if !validAmount(amount) {
		return nil, fmt.Errorf("%w: repay amount must be positive", ErrInvalidAmount)
	}
	unlockUser := e.users.lock(user)
	defer unlockUser()
	unlockMarket := e.markets.lock(marketID)
	defer unlockMarket()

	market, err := e.market(marketID)
	if err != nil {
		return nil, err
	}
	row, err := e.state.GetBorrow(user, marketID)
	if err != nil {
		return nil, err
	}
	if row == nil || row.BorrowedAmount.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s has no debt in %q", ErrNoDebt, user, marketID)
	}
	price, err := e.price(ctx, market)
	if err != nil {
		return nil, err
	}
	actual := minBig(amount, row.BorrowedAmount)

	row.BorrowedAmount = new(big.Int).Sub(row.BorrowedAmount, actual)
	row.UpdatedAt = e.now()
	if row.BorrowedAmount.Sign() == 0 {
		if err := e.state.DeleteBorrow(user, marketID); err != nil {
			return nil, err
		}
	} else if err := e.state.PutBorrow(row); err != nil {
		return nil, err
	}

	market.TotalBorrowed = clampZero(new(big.Int).Sub(market.TotalBorrowed, actual))
	market.AvailableLiquidity = new(big.Int).Add(market.AvailableLiquidity, actual)
	if err := e.refreshMarket(market); err != nil {
		return nil, err
	}

	position, err := e.recomputePosition(ctx, user)
	if err != nil {
		return nil, err
	}
	tx = &Transaction{
		UserAddress:         user,
		MarketID:            marketID,
		Type:                TxRepay,
		Amount:              actual,
		Value:               valueOf(actual, price),
		RateMode:            row.RateMode,
		HealthFactorAfterBps: positionHealth(position),
	}
	if err := e.journal(tx); err != nil {
		return nil, err
	}
	e.logger.Info("lending repay",
		"user", user, "market", marketID,
		"amount", actual.String(), "health_bps", tx.HealthFactorAfterBps)
	return tx, nil
}

// sharesFor converts an underlying amount to shares at the given WAD-scaled
// exchange rate.
func sharesFor(amount, exchangeRate *big.Int) *big.Int {
	if exchangeRate == nil || exchangeRate.Sign() == 0 {
		return copyBig(amount)
	}
	return mulDiv(amount, wad, exchangeRate)
}

func positionHealth(p *Position) uint64 {
	if p == nil {
		return MaxHealthFactorBps
	}
	return p.HealthFactorBps
}
