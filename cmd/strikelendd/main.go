package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"strikelend/config"
	"strikelend/core/events"
	"strikelend/crypto"
	"strikelend/gateway/middleware"
	"strikelend/gateway/routes"
	"strikelend/ledger"
	"strikelend/native/loan"
	"strikelend/native/quote"
	"strikelend/observability"
	"strikelend/observability/logging"
	"strikelend/oracle"
	"strikelend/refinance/market"
	"strikelend/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.Setup("strikelendd", cfg.Node.Env, logging.Options{
		File:       cfg.Node.LogFile,
		MaxSizeMB:  cfg.Node.LogMaxSizeMB,
		MaxBackups: cfg.Node.LogMaxBackups,
	})

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logger.Error("open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	book := ledger.NewBook(store)

	registry := oracle.NewRegistry()
	for _, feedCfg := range cfg.Feeds {
		reporter, err := crypto.DecodeAddress(feedCfg.Reporter)
		if err != nil {
			logger.Error("decode feed reporter", "pair", feedCfg.Pair, "error", err)
			os.Exit(1)
		}
		feed := oracle.NewFeed(feedCfg.Pair, reporter.Raw(), feedCfg.MaxDelaySeconds)
		if err := registry.AddFeed(feed); err != nil {
			logger.Error("register feed", "pair", feedCfg.Pair, "error", err)
			os.Exit(1)
		}
	}

	hub := routes.NewHub(logger)
	emitter := events.Fanout{
		storage.NewEventLog(store, logger),
		observability.NewEventRecorder(),
		hub,
	}

	loans := loan.NewEngine()
	loans.SetState(store)
	loans.SetLedger(book)
	loans.SetEmitter(emitter)
	loans.RegisterOracle("feed", registry)

	if cfg.Market.Enabled {
		var marketID [32]byte
		copy(marketID[:], ethcrypto.Keccak256([]byte("strikelend/market"), []byte(cfg.Market.Name)))
		venue := market.New(ledger.VaultAddress(marketID), book, market.Params{
			MaxLTVBps: cfg.Market.MaxLTVBps,
		})
		venue.SetPriceOracle(registry)
		loans.RegisterVenue(cfg.Market.Name, market.NewVenue(venue, logger))
		logger.Info("refinance venue enabled", "name", cfg.Market.Name, "max_ltv_bps", cfg.Market.MaxLTVBps)
	}

	quotes := quote.NewEngine()
	quotes.SetState(store)
	quotes.SetLoanEngine(loans)
	quotes.SetLedger(book)
	quotes.SetEmitter(emitter)
	if treasury := strings.TrimSpace(cfg.Gateway.FeeTreasury); treasury != "" {
		addr, err := crypto.DecodeAddress(treasury)
		if err != nil {
			logger.Error("decode fee treasury", "error", err)
			os.Exit(1)
		}
		quotes.SetFeeTreasury(addr.Raw())
	}

	secret := os.Getenv(cfg.Gateway.JWTSecretEnv)
	if secret == "" {
		logger.Error("jwt secret not set", "env", cfg.Gateway.JWTSecretEnv)
		os.Exit(1)
	}

	handler := routes.New(routes.Config{
		Loans:  loans,
		Quotes: quotes,
		Oracle: registry,
		Store:  store,
		Hub:    hub,

		Authenticator: middleware.NewAuthenticator([]byte(secret), cfg.Gateway.JWTIssuer),
		RateLimiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			"v1": {RequestsPerMinute: cfg.Gateway.RequestsPerMinute, Burst: cfg.Gateway.Burst},
		}),
		Observability: middleware.NewObservability(logger, cfg.Gateway.LogRequests),
		Logger:        logger,
	})

	server := &http.Server{
		Addr:              cfg.Node.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "address", cfg.Node.ListenAddress)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
