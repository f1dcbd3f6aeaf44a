package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"lendcore/native/lending"
)

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *lending.StaticOracle) {
	t.Helper()
	state := lending.NewMemoryState()
	oracle := lending.NewStaticOracle()
	engine := lending.New(state, oracle, lending.DefaultParams())
	srv := New(engine, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, oracle
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func createTestMarket(t *testing.T, base string, id string) {
	t.Helper()
	resp := postJSON(t, base+"/v1/markets", createMarketRequest{
		ID:                      id,
		AssetSymbol:             "TST",
		BaseRateBps:             200,
		OptimalUtilizationBps:   8000,
		Slope1Bps:               400,
		Slope2Bps:               6000,
		ReserveFactorBps:        1000,
		CollateralFactorBps:     7500,
		LiquidationThresholdBps: 8000,
		LiquidationPenaltyBps:   500,
		CanBeCollateral:         true,
		CanBeBorrowed:           true,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func wadString(n int64) string {
	return new(big.Int).Mul(big.NewInt(n), lending.WAD()).String()
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMarketLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	createTestMarket(t, ts.URL, "asset-x")

	// Duplicate creation conflicts.
	resp := postJSON(t, ts.URL+"/v1/markets", createMarketRequest{ID: "asset-x"})
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err := http.Get(ts.URL + "/v1/markets/asset-x")
	require.NoError(t, err)
	var market marketPayload
	decodeBody(t, resp, &market)
	require.Equal(t, "asset-x", market.ID)
	require.Equal(t, "active", market.Status)
	require.Equal(t, "0", market.TotalSupply)

	resp, err = http.Get(ts.URL + "/v1/markets/missing")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/markets/asset-x/status", map[string]string{"status": "paused"})
	decodeBody(t, resp, &market)
	require.Equal(t, "paused", market.Status)
}

func TestSupplyBorrowFlow(t *testing.T) {
	ts, _ := newTestServer(t)
	createTestMarket(t, ts.URL, "asset-x")
	createTestMarket(t, ts.URL, "asset-y")

	resp := postJSON(t, ts.URL+"/v1/supply", amountRequest{
		UserAddress: "lp", MarketID: "asset-y", Amount: wadString(2000),
	})
	var supplyResp struct {
		SuppliedAmount string             `json:"suppliedAmount"`
		Transaction    transactionPayload `json:"transaction"`
	}
	decodeBody(t, resp, &supplyResp)
	require.Equal(t, wadString(2000), supplyResp.SuppliedAmount)
	require.Equal(t, "supply", supplyResp.Transaction.Type)

	resp = postJSON(t, ts.URL+"/v1/supply", amountRequest{
		UserAddress: "alice", MarketID: "asset-x", Amount: wadString(1000), AsCollateral: true,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Over capacity: 422.
	resp = postJSON(t, ts.URL+"/v1/borrow", amountRequest{
		UserAddress: "alice", MarketID: "asset-y", Amount: wadString(800),
	})
	resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/borrow", amountRequest{
		UserAddress: "alice", MarketID: "asset-y", Amount: wadString(750),
	})
	var borrowResp struct {
		BorrowedAmount string             `json:"borrowedAmount"`
		RateMode       string             `json:"rateMode"`
		Transaction    transactionPayload `json:"transaction"`
	}
	decodeBody(t, resp, &borrowResp)
	require.Equal(t, wadString(750), borrowResp.BorrowedAmount)
	require.Equal(t, "variable", borrowResp.RateMode)
	require.Equal(t, uint64(10666), borrowResp.Transaction.HealthFactorAfterBps)

	resp, err := http.Get(ts.URL + "/v1/positions/alice")
	require.NoError(t, err)
	var position positionPayload
	decodeBody(t, resp, &position)
	require.Equal(t, uint64(10666), position.HealthFactorBps)
	require.Equal(t, "at_risk", position.HealthStatus)
	require.Len(t, position.Supplies, 1)
	require.Len(t, position.Borrows, 1)

	resp, err = http.Get(ts.URL + "/v1/transactions?limit=10")
	require.NoError(t, err)
	var txList struct {
		Transactions []transactionPayload `json:"transactions"`
	}
	decodeBody(t, resp, &txList)
	require.Len(t, txList.Transactions, 3)

	resp, err = http.Get(ts.URL + "/v1/stats")
	require.NoError(t, err)
	var stats statsPayload
	decodeBody(t, resp, &stats)
	require.Equal(t, 2, stats.MarketCount)
	require.Equal(t, wadString(3000), stats.TotalValueLocked)
	require.Equal(t, wadString(750), stats.TotalBorrowedValue)
}

func TestQuoteDoesNotMutate(t *testing.T) {
	ts, _ := newTestServer(t)
	createTestMarket(t, ts.URL, "asset-x")

	resp := postJSON(t, ts.URL+"/v1/quotes/supply", amountRequest{
		MarketID: "asset-x", Amount: wadString(100),
	})
	var quote struct {
		Shares string `json:"shares"`
	}
	decodeBody(t, resp, &quote)
	require.Equal(t, wadString(100), quote.Shares)

	resp, err := http.Get(ts.URL + "/v1/markets/asset-x")
	require.NoError(t, err)
	var market marketPayload
	decodeBody(t, resp, &market)
	require.Equal(t, "0", market.TotalSupply)
}

func TestValidationErrors(t *testing.T) {
	ts, _ := newTestServer(t)
	createTestMarket(t, ts.URL, "asset-x")

	resp := postJSON(t, ts.URL+"/v1/supply", amountRequest{
		UserAddress: "alice", MarketID: "asset-x", Amount: "not-a-number",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/supply", amountRequest{
		UserAddress: "alice", MarketID: "asset-x", Amount: "-5",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/repay", amountRequest{
		UserAddress: "alice", MarketID: "asset-x", Amount: wadString(1),
	})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Get(ts.URL + "/v1/positions?status=bogus")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLiquidationRoute(t *testing.T) {
	ts, _ := newTestServer(t)
	createTestMarket(t, ts.URL, "asset-x")
	createTestMarket(t, ts.URL, "asset-y")

	resp := postJSON(t, ts.URL+"/v1/supply", amountRequest{
		UserAddress: "lp", MarketID: "asset-y", Amount: wadString(2000),
	})
	resp.Body.Close()
	resp = postJSON(t, ts.URL+"/v1/supply", amountRequest{
		UserAddress: "bob", MarketID: "asset-x", Amount: wadString(1000), AsCollateral: true,
	})
	resp.Body.Close()
	resp = postJSON(t, ts.URL+"/v1/borrow", amountRequest{
		UserAddress: "bob", MarketID: "asset-y", Amount: wadString(500),
	})
	resp.Body.Close()

	// Healthy positions cannot be liquidated.
	resp = postJSON(t, ts.URL+"/v1/liquidate", liquidateRequest{
		LiquidatorAddress: "liq", BorrowerAddress: "bob",
		DebtMarketID: "asset-y", CollateralMarketID: "asset-x",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRateLimitOnMutations(t *testing.T) {
	ts, _ := newTestServer(t, WithRateLimit(60, 2))
	createTestMarket(t, ts.URL, "asset-x")

	var limited bool
	for i := 0; i < 5; i++ {
		resp := postJSON(t, ts.URL+"/v1/supply", amountRequest{
			UserAddress: "alice", MarketID: "asset-x", Amount: wadString(1),
		})
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	require.True(t, limited, "expected a 429 after exhausting the burst")

	// Read routes are never throttled.
	for i := 0; i < 5; i++ {
		resp, err := http.Get(fmt.Sprintf("%s/v1/markets/asset-x", ts.URL))
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}
