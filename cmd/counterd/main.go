package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CryptoExplor/nexus-counter-app/config"
	"github.com/CryptoExplor/nexus-counter-app/core"
	"github.com/CryptoExplor/nexus-counter-app/core/counter"
	"github.com/CryptoExplor/nexus-counter-app/crypto"
	"github.com/CryptoExplor/nexus-counter-app/observability/logging"
	"github.com/CryptoExplor/nexus-counter-app/rpc"
	"github.com/CryptoExplor/nexus-counter-app/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the counterd config file")
	flag.Parse()

	env := os.Getenv("COUNTER_ENV")
	if env == "" {
		env = "development"
	}
	logger := logging.Setup("counterd", env, logging.Options{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if cfg.LogFile != "" || cfg.Environment != env {
		logger = logging.Setup("counterd", cfg.Environment, logging.Options{FilePath: cfg.LogFile})
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ownerKey, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, os.Getenv("COUNTER_KEYSTORE_PASS"))
	if err != nil {
		logger.Error("failed to load owner keystore", "path", cfg.OwnerKeystorePath, "error", err)
		os.Exit(1)
	}

	params, err := genesisParams(cfg)
	if err != nil {
		logger.Error("invalid genesis parameters", "error", err)
		os.Exit(1)
	}

	node, err := core.NewNode(db, cfg.ChainID, ownerKey.PubKey().Address(), params, logger)
	if err != nil {
		logger.Error("failed to initialise node", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddress != "" && cfg.MetricsAddress != cfg.RPCAddress {
		go serveMetrics(ctx, cfg.MetricsAddress, logger)
	}

	logger.Info("starting counterd",
		"network", cfg.NetworkName,
		"chainId", cfg.ChainID,
		"owner", ownerKey.PubKey().Address().Hex(),
		"rpc", cfg.RPCAddress,
	)

	server := rpc.NewServer(node, cfg.AdminToken, logger)
	if err := server.Start(ctx, cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("counterd shut down")
}

// genesisParams builds the initial program parameters from the config. The
// values only apply on a fresh data dir; an existing ledger keeps its own.
func genesisParams(cfg *config.Config) (counter.Params, error) {
	params := counter.DefaultParams()
	if cfg.GenesisFeeWei != "" {
		fee, ok := new(big.Int).SetString(cfg.GenesisFeeWei, 10)
		if !ok {
			return counter.Params{}, fmt.Errorf("malformed GenesisFeeWei %q", cfg.GenesisFeeWei)
		}
		params.FeeWei = fee
	}
	if cfg.GenesisCooldownSeconds > 0 {
		params.Cooldown = time.Duration(cfg.GenesisCooldownSeconds) * time.Second
	}
	if len(cfg.GenesisThresholds) == counter.TierCount {
		copy(params.Thresholds[:], cfg.GenesisThresholds)
	}
	if err := params.Validate(); err != nil {
		return counter.Params{}, err
	}
	return params, nil
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics listening", "address", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped", "error", err)
	}
}
