package lending

import (
	"context"
	"math/big"
	"sync"
	"time"
)

// RefreshMarkets accrues interest on every market and refreshes its rates,
// appending a rate-history point per market. It is the body of the periodic
// rate sweep but can be invoked directly.
func (e *Engine) RefreshMarkets(ctx context.Context) error {
	markets, err := e.ListMarkets(ctx, false)
	if err != nil {
		return err
	}
	for _, m := range markets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.refreshOne(m.ID); err != nil {
			e.logger.Error("market refresh failed", "market", m.ID, "err", err)
		}
	}
	return nil
}

func (e *Engine) refreshOne(marketID string) (err error) {
	defer func() { e.record("refresh_market", err) }()
	unlock := e.markets.lock(marketID)
	defer unlock()
	market, err := e.market(marketID)
	if err != nil {
		return err
	}
	if err := e.accrue(market); err != nil {
		return err
	}
	return e.refreshMarket(market)
}

// accrue advances the market's interest accounting to the current clock.
// Each borrow row grows pro rata at its own rate mode; the summed interest
// raises total borrowed and total supply equally, so available liquidity is
// untouched. The reserve-factor share goes to reserves and the remainder
// compounds into the exchange rate for suppliers. Called with the market
// lock held.
func (e *Engine) accrue(market *Market) error {
	now := e.now()
	if market.LastAccrual.IsZero() {
		market.LastAccrual = now
		return nil
	}
	elapsed := int64(now.Sub(market.LastAccrual) / time.Second)
	if elapsed <= 0 {
		return nil
	}
	rows, err := e.state.BorrowsByMarket(market.ID)
	if err != nil {
		return err
	}
	totalInterest := big.NewInt(0)
	for _, row := range rows {
		rate := market.BorrowRateVariableBps
		if row.RateMode == RateModeStable {
			rate = market.BorrowRateStableBps
		}
		interest := accruedInterest(row.BorrowedAmount, rate, elapsed)
		if interest.Sign() == 0 {
			continue
		}
		row.BorrowedAmount = new(big.Int).Add(row.BorrowedAmount, interest)
		row.AccruedInterest = new(big.Int).Add(row.AccruedInterest, interest)
		row.UpdatedAt = now
		if err := e.state.PutBorrow(row); err != nil {
			return err
		}
		totalInterest.Add(totalInterest, interest)
	}
	if totalInterest.Sign() > 0 {
		reserve := bpsShare(totalInterest, market.ReserveFactorBps)
		supplierShare := new(big.Int).Sub(totalInterest, reserve)
		prevSupply := copyBig(market.TotalSupply)
		market.TotalBorrowed = new(big.Int).Add(market.TotalBorrowed, totalInterest)
		market.TotalSupply = new(big.Int).Add(market.TotalSupply, totalInterest)
		market.Reserves = new(big.Int).Add(market.Reserves, reserve)
		if prevSupply.Sign() > 0 && supplierShare.Sign() > 0 {
			growth := mulDiv(market.ExchangeRate, supplierShare, prevSupply)
			market.ExchangeRate = new(big.Int).Add(market.ExchangeRate, growth)
		}
	}
	market.LastAccrual = now
	return nil
}

// accruedInterest computes simple interest over elapsed seconds:
// floor(principal * rateBps * elapsed / (10000 * secondsPerYear)).
func accruedInterest(principal *big.Int, rateBps uint64, elapsed int64) *big.Int {
	if principal == nil || principal.Sign() <= 0 || rateBps == 0 || elapsed <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).SetUint64(rateBps)
	num.Mul(num, big.NewInt(elapsed))
	den := new(big.Int).Mul(basisPoints, big.NewInt(secondsPerYear))
	return mulDiv(principal, num, den)
}

// SweepPositions recomputes every cached position from the ledger rows,
// reclassifying health statuses after accrual and price movement. It is the
// body of the periodic health sweep.
func (e *Engine) SweepPositions(ctx context.Context) error {
	positions, err := e.state.ListPositions()
	if err != nil {
		return err
	}
	for _, p := range positions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.sweepOne(ctx, p.UserAddress); err != nil {
			e.logger.Error("position sweep failed", "user", p.UserAddress, "err", err)
		}
	}
	return nil
}

func (e *Engine) sweepOne(ctx context.Context, user string) (err error) {
	defer func() { e.record("sweep_position", err) }()
	unlock := e.users.lock(user)
	defer unlock()
	position, err := e.recomputePosition(ctx, user)
	if err != nil {
		return err
	}
	if position != nil && position.HealthStatus != StatusHealthy {
		e.logger.Warn("position unhealthy",
			"user", user, "status", string(position.HealthStatus),
			"health_bps", position.HealthFactorBps)
	}
	return nil
}

// Scheduler drives the periodic rate and health sweeps. It owns its own
// goroutines; Start is idempotent until Stop has been called.
type Scheduler struct {
	engine         *Engine
	rateInterval   time.Duration
	healthInterval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a scheduler over the engine. Non-positive intervals
// fall back to the defaults of one minute for rates and thirty seconds for
// health.
func NewScheduler(engine *Engine, rateInterval, healthInterval time.Duration) *Scheduler {
	if rateInterval <= 0 {
		rateInterval = time.Minute
	}
	if healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}
	return &Scheduler{
		engine:         engine,
		rateInterval:   rateInterval,
		healthInterval: healthInterval,
	}
}

// Start launches the sweep goroutines. They stop when ctx is cancelled or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, s.rateInterval, s.engine.RefreshMarkets)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, s.healthInterval, s.engine.SweepPositions)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()
}

// Stop cancels the sweeps and waits for both loops to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, sweep func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sweep(ctx); err != nil && ctx.Err() == nil {
				s.engine.logger.Error("sweep failed", "err", err)
			}
		}
	}
}
