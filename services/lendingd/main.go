package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lendcore/native/lending"
	"lendcore/observability/logging"
	"lendcore/observability/metrics"
	lendingserver "lendcore/services/lending/server"
	"lendcore/services/lendingd/config"
	"lendcore/storage/lendstore"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDCORE_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("lendingd", env)

	store, err := lendstore.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("open database %s: %v", cfg.DatabasePath, err)
	}

	oracle := lending.NewStaticOracle()
	for asset, raw := range cfg.Oracle.Prices {
		price, err := config.ParsePrice(raw)
		if err != nil {
			log.Fatalf("oracle price %s: %v", asset, err)
		}
		oracle.SetPrice(asset, price)
	}

	registry := metrics.Lending()
	engine := lending.New(store, oracle, lending.Params{
		CloseFactorBps: cfg.Protocol.CloseFactorBps,
		OracleTimeout:  cfg.Oracle.Timeout,
		MaxPriceAge:    cfg.Oracle.MaxPriceAge,
	},
		lending.WithLogger(logger),
		lending.WithRecorder(registry),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := seedMarkets(ctx, engine, cfg.Markets); err != nil {
		log.Fatalf("seed markets: %v", err)
	}

	scheduler := lending.NewScheduler(engine, cfg.Scheduler.RateInterval, cfg.Scheduler.HealthInterval)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	srv := lendingserver.New(engine,
		lendingserver.WithLogger(logger),
		lendingserver.WithMetrics(registry),
		lendingserver.WithRateLimit(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
	)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "addr", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "err", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

// seedMarkets provisions the configured markets, skipping ones that exist.
func seedMarkets(ctx context.Context, engine *lending.Engine, seeds []config.MarketSeed) error {
	for _, seed := range seeds {
		_, err := engine.CreateMarket(ctx, &lending.Market{
			ID:                      seed.ID,
			AssetSymbol:             seed.AssetSymbol,
			AssetAddress:            seed.AssetAddress,
			Decimals:                seed.Decimals,
			BaseRateBps:             seed.BaseRateBps,
			OptimalUtilizationBps:   seed.OptimalUtilizationBps,
			Slope1Bps:               seed.Slope1Bps,
			Slope2Bps:               seed.Slope2Bps,
			ReserveFactorBps:        seed.ReserveFactorBps,
			StableRatePremiumBps:    seed.StableRatePremiumBps,
			CollateralFactorBps:     seed.CollateralFactorBps,
			LiquidationThresholdBps: seed.LiquidationThresholdBps,
			LiquidationPenaltyBps:   seed.LiquidationPenaltyBps,
			CanBeCollateral:         seed.CanBeCollateral,
			CanBeBorrowed:           seed.CanBeBorrowed,
		})
		if errors.Is(err, lending.ErrMarketExists) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
