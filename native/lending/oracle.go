package lending

import (
	"context"
	"math/big"
	"sync"
	"time"
)

// PriceQuote is a WAD-scaled asset price with the moment it was observed.
// Health-factor correctness depends entirely on price freshness, so every
// quote carries its own timestamp for staleness checks by the engine.
type PriceQuote struct {
	Price     *big.Int
	Timestamp time.Time
}

// PriceOracle supplies asset prices. Implementations are injected into the
// engine; price sourcing itself is outside the engine's scope.
type PriceOracle interface {
	Price(ctx context.Context, asset string) (PriceQuote, error)
}

// StaticOracle is a fixed price table, safe for concurrent use. It backs the
// daemon's default configuration and the test suites.
type StaticOracle struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
	now    func() time.Time
}

// NewStaticOracle constructs an empty oracle. Unpriced assets default to 1.0
// so a partially seeded table still yields deterministic accounting.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{
		quotes: make(map[string]PriceQuote),
		now:    time.Now,
	}
}

// SetPrice records the WAD-scaled price for an asset, stamped at the current
// time.
func (o *StaticOracle) SetPrice(asset string, price *big.Int) {
	o.SetPriceAt(asset, price, o.now())
}

// SetPriceAt records a price observed at a specific time.
func (o *StaticOracle) SetPriceAt(asset string, price *big.Int, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.quotes[asset] = PriceQuote{Price: new(big.Int).Set(price), Timestamp: at}
}

// SetClock overrides the timestamp source, used by tests.
func (o *StaticOracle) SetClock(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
}

// Price returns the recorded quote for the asset, or a 1.0 quote stamped now
// when the asset has not been seeded.
func (o *StaticOracle) Price(_ context.Context, asset string) (PriceQuote, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if quote, ok := o.quotes[asset]; ok {
		return PriceQuote{Price: new(big.Int).Set(quote.Price), Timestamp: quote.Timestamp}, nil
	}
	return PriceQuote{Price: WAD(), Timestamp: o.now()}, nil
}
