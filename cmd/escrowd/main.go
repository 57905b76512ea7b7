package main

import (
	"context"
	"flag"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"escrowd/config"
	"escrowd/core"
	nativecommon "escrowd/native/common"
	"escrowd/native/escrow"
	"escrowd/observability/logging"
	"escrowd/registry"
	"escrowd/rpc"
	"escrowd/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "./config.toml", "path to the escrowd config file")
	flag.Parse()

	env := os.Getenv("ESCROWD_ENV")
	if env == "" {
		env = "local"
	}
	logger := logging.Setup("escrowd", env)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	balances, err := cfg.GenesisBalances()
	if err != nil {
		logger.Error("parse genesis allocations", "error", err)
		os.Exit(1)
	}

	reg := registry.New(cfg.EventLogCapacity)

	policy := escrow.WithdrawRejectZero
	if cfg.WithdrawPolicy == config.WithdrawPolicyAllow {
		policy = escrow.WithdrawAllowZero
	}

	node, err := core.NewNode(db, genesisAllocs(balances),
		core.WithEmitter(reg),
		core.WithPauses(nativecommon.NewStaticPauseView(cfg.PausedModules)),
		core.WithWithdrawPolicy(policy),
		core.WithLogger(logger),
	)
	if err != nil {
		logger.Error("initialise node", "error", err)
		os.Exit(1)
	}

	rpcSrv := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           rpc.NewServer(node),
		ReadHeaderTimeout: 10 * time.Second,
	}
	regSrv := &http.Server{
		Addr:              cfg.RegistryAddress,
		Handler:           registry.Handler(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("rpc listening", "addr", cfg.RPCAddress, "network", cfg.NetworkName)
		if err := rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("registry listening", "addr", cfg.RegistryAddress)
		if err := regSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("listen", "error", err)
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rpcSrv.Shutdown(ctx); err != nil {
		logger.Error("rpc shutdown", "error", err)
	}
	if err := regSrv.Shutdown(ctx); err != nil {
		logger.Error("registry shutdown", "error", err)
	}
}

// genesisAllocs flattens the parsed balance map into a deterministic slice so
// the seeded state does not depend on map iteration order.
func genesisAllocs(balances map[[20]byte]*big.Int) []core.GenesisAlloc {
	allocs := make([]core.GenesisAlloc, 0, len(balances))
	for addr, balance := range balances {
		allocs = append(allocs, core.GenesisAlloc{Address: addr, Balance: balance})
	}
	sort.Slice(allocs, func(i, j int) bool {
		a, b := allocs[i].Address, allocs[j].Address
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return allocs
}
