package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"lendcore/native/lending"
)

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	markets, err := s.engine.ListMarkets(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]marketPayload, 0, len(markets))
	for _, m := range markets {
		out = append(out, marketToPayload(m))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"markets": out})
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.engine.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, marketToPayload(market))
}

func (s *Server) handleMarketMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.GetMarketMetrics(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"marketId":                m.MarketID,
		"totalSupply":             bigString(m.TotalSupply),
		"totalBorrowed":           bigString(m.TotalBorrowed),
		"availableLiquidity":      bigString(m.AvailableLiquidity),
		"reserves":                bigString(m.Reserves),
		"utilizationBps":          m.UtilizationBps,
		"supplyRateBps":           m.SupplyRateBps,
		"borrowRateVariableBps":   m.BorrowRateVariableBps,
		"borrowRateStableBps":     m.BorrowRateStableBps,
		"collateralFactorBps":     m.CollateralFactorBps,
		"liquidationThresholdBps": m.LiquidationThresholdBps,
		"liquidationPenaltyBps":   m.LiquidationPenaltyBps,
		"reserveFactorBps":        m.ReserveFactorBps,
	})
}

func (s *Server) handleRateHistory(w http.ResponseWriter, r *http.Request) {
	points, err := s.engine.RateHistory(r.Context(), chi.URLParam(r, "marketID"), limitParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]ratePointPayload, 0, len(points))
	for _, p := range points {
		out = append(out, ratePointToPayload(p))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rates": out})
}

func (s *Server) handleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if !s.decode(w, r, &req) {
		return
	}
	market, err := s.engine.CreateMarket(r.Context(), req.toMarket())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, marketToPayload(market))
}

func (s *Server) handleSetMarketStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	marketID := chi.URLParam(r, "marketID")
	if err := s.engine.SetMarketStatus(r.Context(), marketID, lending.MarketStatus(req.Status)); err != nil {
		s.writeError(w, err)
		return
	}
	market, err := s.engine.GetMarket(r.Context(), marketID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, marketToPayload(market))
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.GetPosition(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, positionToPayload(summary))
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	var (
		positions []*lending.Position
		err       error
	)
	switch status := r.URL.Query().Get("status"); status {
	case "liquidatable":
		positions, err = s.engine.LiquidatablePositions(r.Context())
	case "at_risk":
		positions, err = s.engine.AtRiskPositions(r.Context())
	case "":
		s.writeBadRequest(w, "status query parameter is required (liquidatable or at_risk)")
		return
	default:
		s.writeBadRequest(w, "unknown status %q", status)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]positionBriefPayload, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionBrief(p))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.engine.RecentTransactions(r.Context(), limitParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]transactionPayload, 0, len(txs))
	for _, tx := range txs {
		out = append(out, transactionToPayload(tx))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (s *Server) handleLiquidations(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.RecentLiquidations(r.Context(), limitParam(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]liquidationPayload, 0, len(records))
	for _, rec := range records {
		out = append(out, liquidationToPayload(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"liquidations": out})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.GetStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statsToPayload(stats))
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := req.amount()
	if err != nil {
		s.writeBadRequest(w, "%v", err)
		return
	}
	row, tx, err := s.engine.Supply(r.Context(), req.UserAddress, req.MarketID, amount, req.AsCollateral)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"suppliedAmount": bigString(row.SuppliedAmount),
		"suppliedShares": bigString(row.SuppliedShares),
		"isCollateral":   row.IsCollateral,
		"transaction":    transactionToPayload(tx),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := req.amount()
	if err != nil {
		s.writeBadRequest(w, "%v", err)
		return
	}
	tx, err := s.engine.Withdraw(r.Context(), req.UserAddress, req.MarketID, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transaction": transactionToPayload(tx)})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := req.amount()
	if err != nil {
		s.writeBadRequest(w, "%v", err)
		return
	}
	row, tx, err := s.engine.Borrow(r.Context(), req.UserAddress, req.MarketID, amount, lending.RateMode(req.RateMode))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"borrowedAmount": bigString(row.BorrowedAmount),
		"rateMode":       string(row.RateMode),
		"transaction":    transactionToPayload(tx),
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := req.amount()
	if err != nil {
		s.writeBadRequest(w, "%v", err)
		return
	}
	tx, err := s.engine.Repay(r.Context(), req.UserAddress, req.MarketID, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"transaction": transactionToPayload(tx)})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	debtToCover, err := parseOptionalAmount(req.DebtToCover)
	if err != nil {
		s.writeBadRequest(w, "%v", err)
		return
	}
	rec, tx, err := s.engine.Liquidate(r.Context(), req.LiquidatorAddress, req.BorrowerAddress, req.DebtMarketID, req.CollateralMarketID, debtToCover)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"liquidation": liquidationToPayload(rec),
		"transaction": transactionToPayload(tx),
	})
}

func (s *Server) handleQuoteSupply(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := req.amount()
	if err != nil {
		s.writeBadRequest(w, "%v", err)
		return
	}
	quote, err := s.engine.QuoteSupply(r.Context(), req.MarketID, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"marketId":             quote.MarketID,
		"amount":               bigString(quote.Amount),
		"shares":               bigString(quote.Shares),
		"value":                bigString(quote.Value),
		"supplyRateBps":        quote.SupplyRateBps,
		"estimatedYearlyYield": bigString(quote.EstimatedYearly),
	})
}

func (s *Server) handleQuoteWithdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := req.amount()
	if err != nil {
		s.writeBadRequest(w, "%v", err)
		return
	}
	quote, err := s.engine.QuoteWithdraw(r.Context(), req.UserAddress, req.MarketID, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"marketId":           quote.MarketID,
		"amount":             bigString(quote.Amount),
		"sharesBurned":       bigString(quote.SharesBurned),
		"value":              bigString(quote.Value),
		"newHealthFactorBps": quote.NewHealthFactorBps,
	})
}

func (s *Server) handleQuoteBorrow(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := req.amount()
	if err != nil {
		s.writeBadRequest(w, "%v", err)
		return
	}
	quote, err := s.engine.QuoteBorrow(r.Context(), req.UserAddress, req.MarketID, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"marketId":                quote.MarketID,
		"amount":                  bigString(quote.Amount),
		"value":                   bigString(quote.Value),
		"borrowRateBps":           quote.BorrowRateBps,
		"newHealthFactorBps":      quote.NewHealthFactorBps,
		"remainingCapacity":       bigString(quote.RemainingCapacity),
		"estimatedYearlyInterest": bigString(quote.EstimatedYearly),
	})
}

func (s *Server) handleQuoteRepay(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := req.amount()
	if err != nil {
		s.writeBadRequest(w, "%v", err)
		return
	}
	quote, err := s.engine.QuoteRepay(r.Context(), req.UserAddress, req.MarketID, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"marketId":           quote.MarketID,
		"amount":             bigString(quote.Amount),
		"remainingDebt":      bigString(quote.RemainingDebt),
		"newHealthFactorBps": quote.NewHealthFactorBps,
	})
}

func (s *Server) handleQuoteLiquidation(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	debtToCover, err := parseOptionalAmount(req.DebtToCover)
	if err != nil {
		s.writeBadRequest(w, "%v", err)
		return
	}
	quote, err := s.engine.QuoteLiquidation(r.Context(), req.BorrowerAddress, req.DebtMarketID, req.CollateralMarketID, debtToCover)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"borrowerAddress":       quote.BorrowerAddress,
		"debtMarketId":          quote.DebtMarketID,
		"collateralMarketId":    quote.CollateralMarketID,
		"healthFactorBps":       quote.HealthFactorBps,
		"maxDebtRepayable":      bigString(quote.MaxDebtRepayable),
		"debtRepaid":            bigString(quote.DebtRepaid),
		"debtRepaidValue":       bigString(quote.DebtRepaidValue),
		"collateralSeized":      bigString(quote.CollateralSeized),
		"bonus":                 bigString(quote.Bonus),
		"estimatedProfitValue":  bigString(quote.EstimatedProfitValue),
		"closeFactorBps":        quote.CloseFactorBps,
		"liquidationPenaltyBps": quote.LiquidationPenaltyBps,
	})
}
