package lending

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Params groups the engine-wide protocol settings.
type Params struct {
	// CloseFactorBps caps the share of outstanding debt a single
	// liquidation call may repay.
	CloseFactorBps uint64
	// OracleTimeout bounds each price lookup; the oracle is the only call
	// with external latency and must not block the engine.
	OracleTimeout time.Duration
	// MaxPriceAge is the freshness window beyond which a quote is rejected
	// as stale.
	MaxPriceAge time.Duration
}

// DefaultParams returns the standard protocol settings.
func DefaultParams() Params {
	return Params{
		CloseFactorBps: 5_000,
		OracleTimeout:  2 * time.Second,
		MaxPriceAge:    5 * time.Minute,
	}
}

// Recorder receives operation outcomes and market snapshots for metrics
// export. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordOperation(op string, err error)
	RecordMarket(m *Market)
}

// Engine is the collateralized lending engine. It owns no global state:
// persistence and price sourcing are injected, and background work is driven
// by an explicitly owned Scheduler rather than ambient timers.
//
// Mutations are serialized per user address and per market id so a
// health-factor check and its commit can never interleave with a concurrent
// mutation of the same position.
type Engine struct {
	state    State
	oracle   PriceOracle
	params   Params
	logger   *slog.Logger
	now      func() time.Time
	users    *keyedMutex
	markets  *keyedMutex
	recorder Recorder
}

// Option customizes engine construction.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source, used by tests and the accrual sweep.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// New constructs an engine over the given state and oracle.
func New(state State, oracle PriceOracle, params Params, opts ...Option) *Engine {
	if params.CloseFactorBps == 0 || params.CloseFactorBps > BasisPointsMax {
		params.CloseFactorBps = DefaultParams().CloseFactorBps
	}
	if params.OracleTimeout <= 0 {
		params.OracleTimeout = DefaultParams().OracleTimeout
	}
	engine := &Engine{
		state:   state,
		oracle:  oracle,
		params:  params,
		logger:  slog.Default(),
		now:     time.Now,
		users:   newKeyedMutex(),
		markets: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Params returns the engine's protocol settings.
func (e *Engine) Params() Params { return e.params }

// GetMarket returns the market with the given id.
func (e *Engine) GetMarket(_ context.Context, id string) (*Market, error) {
	return e.market(id)
}

// ListMarkets enumerates markets sorted by id, optionally only active ones.
func (e *Engine) ListMarkets(_ context.Context, activeOnly bool) ([]*Market, error) {
	markets, err := e.state.ListMarkets()
	if err != nil {
		return nil, err
	}
	out := markets[:0]
	for _, m := range markets {
		if activeOnly && m.Status != MarketActive {
			continue
		}
		m.EnsureDefaults()
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateMarket provisions a new market. Aggregates start at zero, the
// exchange rate at 1.0, and rates are derived immediately so a freshly
// provisioned market already carries a rate-history point.
func (e *Engine) CreateMarket(_ context.Context, m *Market) (market *Market, err error) {
	defer func() { e.record("create_market", err) }()
	if m == nil || m.ID == "" {
		return nil, fmt.Errorf("%w: market id required", ErrInvalidState)
	}
	if m.LiquidationThresholdBps < m.CollateralFactorBps {
		return nil, fmt.Errorf("%w: liquidation threshold below collateral factor", ErrInvalidState)
	}
	unlock := e.markets.lock(m.ID)
	defer unlock()
	existing, err := e.state.GetMarket(m.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %q", ErrMarketExists, m.ID)
	}
	market = m.Clone()
	market.EnsureDefaults()
	market.LastAccrual = e.now()
	if err := e.refreshMarket(market); err != nil {
		return nil, err
	}
	return market, nil
}

// SetMarketStatus transitions a market between active, paused, and frozen.
func (e *Engine) SetMarketStatus(_ context.Context, id string, status MarketStatus) (err error) {
	defer func() { e.record("set_market_status", err) }()
	switch status {
	case MarketActive, MarketPaused, MarketFrozen:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidState, status)
	}
	unlock := e.markets.lock(id)
	defer unlock()
	market, err := e.market(id)
	if err != nil {
		return err
	}
	market.Status = status
	return e.state.PutMarket(market)
}

// GetMarketMetrics returns the derived metrics view for one market.
func (e *Engine) GetMarketMetrics(_ context.Context, id string) (*MarketMetrics, error) {
	market, err := e.market(id)
	if err != nil {
		return nil, err
	}
	return &MarketMetrics{
		MarketID:                market.ID,
		TotalSupply:             copyBig(market.TotalSupply),
		TotalBorrowed:           copyBig(market.TotalBorrowed),
		AvailableLiquidity:      copyBig(market.AvailableLiquidity),
		Reserves:                copyBig(market.Reserves),
		UtilizationBps:          market.UtilizationBps,
		SupplyRateBps:           market.SupplyRateBps,
		BorrowRateVariableBps:   market.BorrowRateVariableBps,
		BorrowRateStableBps:     market.BorrowRateStableBps,
		CollateralFactorBps:     market.CollateralFactorBps,
		LiquidationThresholdBps: market.LiquidationThresholdBps,
		LiquidationPenaltyBps:   market.LiquidationPenaltyBps,
		ReserveFactorBps:        market.ReserveFactorBps,
	}, nil
}

// MarketMetrics is the read-only per-market reporting view.
type MarketMetrics struct {
	MarketID                string
	TotalSupply             *big.Int
	TotalBorrowed           *big.Int
	AvailableLiquidity      *big.Int
	Reserves                *big.Int
	UtilizationBps          uint64
	SupplyRateBps           uint64
	BorrowRateVariableBps   uint64
	BorrowRateStableBps     uint64
	CollateralFactorBps     uint64
	LiquidationThresholdBps uint64
	LiquidationPenaltyBps   uint64
	ReserveFactorBps        uint64
}

func (e *Engine) market(id string) (*Market, error) {
	market, err := e.state.GetMarket(id)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, fmt.Errorf("%w: market %q", ErrNotFound, id)
	}
	market.EnsureDefaults()
	return market, nil
}

// price fetches a fresh oracle quote for the market's asset, enforcing the
// lookup timeout and the staleness window.
func (e *Engine) price(ctx context.Context, market *Market) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.params.OracleTimeout)
	defer cancel()
	quote, err := e.oracle.Price(ctx, market.assetKey())
	if err != nil {
		return nil, fmt.Errorf("oracle price for %q: %w", market.ID, err)
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive price for %q", ErrPrecisionOverflow, market.ID)
	}
	if e.params.MaxPriceAge > 0 && e.now().Sub(quote.Timestamp) > e.params.MaxPriceAge {
		return nil, fmt.Errorf("%w: %q", ErrStalePrice, market.ID)
	}
	return quote.Price, nil
}

func (m *Market) assetKey() string {
	if m.AssetAddress != "" {
		return m.AssetAddress
	}
	return m.ID
}

// portfolio loads the user's ledger rows plus the markets and prices needed
// to value them.
func (e *Engine) portfolio(ctx context.Context, user string) (Portfolio, error) {
	supplies, err := e.state.SuppliesByUser(user)
	if err != nil {
		return Portfolio{}, err
	}
	borrows, err := e.state.BorrowsByUser(user)
	if err != nil {
		return Portfolio{}, err
	}
	view := Portfolio{
		Supplies: supplies,
		Borrows:  borrows,
		Markets:  make(map[string]*Market),
		Prices:   make(map[string]*big.Int),
	}
	load := func(marketID string) error {
		if _, ok := view.Markets[marketID]; ok {
			return nil
		}
		market, err := e.market(marketID)
		if err != nil {
			return err
		}
		price, err := e.price(ctx, market)
		if err != nil {
			return err
		}
		view.Markets[marketID] = market
		view.Prices[marketID] = price
		return nil
	}
	for _, s := range supplies {
		if err := load(s.MarketID); err != nil {
			return Portfolio{}, err
		}
	}
	for _, b := range borrows {
		if err := load(b.MarketID); err != nil {
			return Portfolio{}, err
		}
	}
	return view, nil
}

// recomputePosition rebuilds the cached Position row from the authoritative
// ledger rows. It returns nil without writing when the user holds no rows
// and no cache entry exists yet.
func (e *Engine) recomputePosition(ctx context.Context, user string) (*Position, error) {
	view, err := e.portfolio(ctx, user)
	if err != nil {
		return nil, err
	}
	if len(view.Supplies) == 0 && len(view.Borrows) == 0 {
		existing, err := e.state.GetPosition(user)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, nil
		}
	}
	hf := view.HealthFactorBps()
	position := &Position{
		UserAddress:          user,
		TotalCollateralValue: view.CollateralValue(),
		TotalBorrowedValue:   view.BorrowedValue(),
		HealthFactorBps:      hf,
		HealthStatus:         HealthStatusFor(hf),
		SuppliedAssetCount:   len(view.Supplies),
		BorrowedAssetCount:   len(view.Borrows),
		UpdatedAt:            e.now(),
	}
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	return position, nil
}

// refreshMarket recomputes the derived rate fields, persists the market, and
// appends a rate-history point. Called with the market lock held whenever
// total supply or total borrowed changed.
func (e *Engine) refreshMarket(market *Market) error {
	refreshRates(market)
	if err := e.state.PutMarket(market); err != nil {
		return err
	}
	point := ratePoint(market)
	point.CreatedAt = e.now()
	if err := e.state.AppendRatePoint(point); err != nil {
		return err
	}
	if e.recorder != nil {
		e.recorder.RecordMarket(market)
	}
	return nil
}

func (e *Engine) record(op string, err error) {
	if e.recorder != nil {
		e.recorder.RecordOperation(op, err)
	}
}

func (e *Engine) journal(tx *Transaction) error {
	if tx.ID == "" {
		tx.ID = newID()
	}
	if tx.TxHash == "" {
		tx.TxHash = newTxHash()
	}
	if tx.Status == "" {
		tx.Status = "completed"
	}
	tx.CreatedAt = e.now()
	return e.state.AppendTransaction(tx)
}

func validAmount(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

func newID() string { return uuid.NewString() }

func newTxHash() string {
	var raw [32]byte
	_, _ = rand.Read(raw[:])
	return "0x" + hex.EncodeToString(raw[:])
}
