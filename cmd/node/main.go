package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/holiman/uint256"

	"github.com/umix-labs/umix-core/params"
	"github.com/umix-labs/umix-core/pkg/api"
	"github.com/umix-labs/umix-core/pkg/crypto"
	"github.com/umix-labs/umix-core/pkg/exchange"
	"github.com/umix-labs/umix-core/pkg/exchange/perps"
	"github.com/umix-labs/umix-core/pkg/util"
)

func main() {
	// Load config from .env file and environment variables.
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger initialized", "log_file", cfg.Node.LogFile)

	// Devnet oracle: a fixed mark price, adjustable via env.
	// TODO: replace with a real price feed client once one exists.
	markPrice := uint256.NewInt(50_000_000_000) // 50000.000000
	if v := os.Getenv("ORACLE_PRICE"); v != "" {
		if p, perr := uint256.FromDecimal(v); perr == nil {
			markPrice = p
		}
	}
	oracle := perps.NewStaticOracle(markPrice)

	x, err := exchange.New(exchange.Config{
		DataDir:    cfg.Node.DataDir,
		Admin:      cfg.Node.Admin,
		BaseToken:  cfg.Market.BaseToken,
		QuoteToken: cfg.Market.QuoteToken,
		Domain:     crypto.DefaultDomain(cfg.Signing.ChainID, cfg.Signing.VerifyingContract),
		Oracle:     oracle,
		Clock:      util.RealClock{},
		Logger:     sugar,
	})
	if err != nil {
		sugar.Fatalw("exchange init failed", "err", err)
	}
	defer x.Close()

	sugar.Infow("exchange started",
		"data_dir", cfg.Node.DataDir,
		"base_token", cfg.Market.BaseToken.Hex(),
		"quote_token", cfg.Market.QuoteToken.Hex(),
		"chain_id", cfg.Signing.ChainID,
		"admin", cfg.Node.Admin.Hex())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(x, sugar)
	if err := server.Start(ctx, cfg.Node.APIAddr); err != nil && err != http.ErrServerClosed {
		sugar.Fatalw("api server failed", "err", err)
	}

	sugar.Info("shutdown complete")
}
