package lending

import "errors"

var (
	// ErrNotFound covers unknown markets, missing supply/borrow rows, and
	// absent position caches.
	ErrNotFound = errors.New("lending: not found")
	// ErrInvalidState rejects actions the market's status or capability
	// flags do not permit.
	ErrInvalidState = errors.New("lending: operation not permitted in current state")
	// ErrInvalidAmount rejects zero, negative, or over-balance amounts.
	ErrInvalidAmount = errors.New("lending: amount must be positive")
	// ErrInsufficientLiquidity rejects borrows and withdrawals that exceed
	// the market's available liquidity.
	ErrInsufficientLiquidity = errors.New("lending: insufficient liquidity")
	// ErrExceedsCapacity rejects borrows and withdrawals that would push the
	// post-action health factor below the minimum. It is always raised
	// before any state is committed.
	ErrExceedsCapacity = errors.New("lending: exceeds borrow capacity")
	// ErrNotLiquidatable rejects liquidation calls against positions whose
	// freshly recomputed health factor is at or above the minimum.
	ErrNotLiquidatable = errors.New("lending: position not eligible for liquidation")
	// ErrNoDebt rejects repayments against accounts with no outstanding debt.
	ErrNoDebt = errors.New("lending: no outstanding debt to repay")
	// ErrStalePrice is returned when the oracle quote is older than the
	// configured freshness window.
	ErrStalePrice = errors.New("lending: oracle price is stale")
	// ErrPrecisionOverflow flags arithmetic that produced an out-of-domain
	// result. It never wraps silently.
	ErrPrecisionOverflow = errors.New("lending: arithmetic out of range")
	// ErrMarketExists rejects provisioning a market id twice.
	ErrMarketExists = errors.New("lending: market already exists")
)
