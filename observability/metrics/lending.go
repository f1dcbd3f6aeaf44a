package metrics

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"lendcore/native/lending"
)

// LendingMetrics exports engine operation outcomes and per-market gauges.
// It implements lending.Recorder.
type LendingMetrics struct {
	operations   *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	utilization  *prometheus.GaugeVec
	supplyRate   *prometheus.GaugeVec
	borrowRate   *prometheus.GaugeVec
	totalSupply  *prometheus.GaugeVec
	totalBorrow  *prometheus.GaugeVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the process-wide lending metrics registry.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operations_total",
				Help: "Count of engine operations by type and result.",
			}, []string{"op", "result"}),
			httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_http_requests_total",
				Help: "Count of HTTP requests by route and status class.",
			}, []string{"route", "status"}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_utilization_bps",
				Help: "Current borrow utilization per market in basis points.",
			}, []string{"market"}),
			supplyRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_supply_rate_bps",
				Help: "Current supply rate per market in basis points.",
			}, []string{"market"}),
			borrowRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_borrow_rate_bps",
				Help: "Current variable borrow rate per market in basis points.",
			}, []string{"market"}),
			totalSupply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_total_supply",
				Help: "Total supplied amount per market in whole asset units.",
			}, []string{"market"}),
			totalBorrow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_market_total_borrowed",
				Help: "Total borrowed amount per market in whole asset units.",
			}, []string{"market"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.httpRequests,
			lendingRegistry.utilization,
			lendingRegistry.supplyRate,
			lendingRegistry.borrowRate,
			lendingRegistry.totalSupply,
			lendingRegistry.totalBorrow,
		)
	})
	return lendingRegistry
}

// RecordOperation counts one engine operation outcome.
func (m *LendingMetrics) RecordOperation(op string, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// RecordMarket refreshes the per-market gauges from a market snapshot.
func (m *LendingMetrics) RecordMarket(market *lending.Market) {
	if m == nil || market == nil {
		return
	}
	m.utilization.WithLabelValues(market.ID).Set(float64(market.UtilizationBps))
	m.supplyRate.WithLabelValues(market.ID).Set(float64(market.SupplyRateBps))
	m.borrowRate.WithLabelValues(market.ID).Set(float64(market.BorrowRateVariableBps))
	m.totalSupply.WithLabelValues(market.ID).Set(wholeUnits(market.TotalSupply))
	m.totalBorrow.WithLabelValues(market.ID).Set(wholeUnits(market.TotalBorrowed))
}

// IncHTTPRequest counts one HTTP request against a route.
func (m *LendingMetrics) IncHTTPRequest(route, status string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.httpRequests.WithLabelValues(route, status).Inc()
}

// wholeUnits converts a WAD-scaled amount to a float of whole asset units.
// Precision loss is fine here; gauges are for dashboards, not accounting.
func wholeUnits(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f := new(big.Float).SetInt(amount)
	f.Quo(f, new(big.Float).SetInt(lending.WAD()))
	out, _ := f.Float64()
	return out
}
