// Package main runs the wallet indexer daemon: it scans committed
// transactions for relevance to every connected wallet's viewing key or
// derived unshielded address.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/midnight-ntwrk/midnight-indexer/internal/config"
	"github.com/midnight-ntwrk/midnight-indexer/internal/ledger"
	"github.com/midnight-ntwrk/midnight-indexer/internal/pubsub"
	"github.com/midnight-ntwrk/midnight-indexer/internal/store"
	"github.com/midnight-ntwrk/midnight-indexer/internal/walletcrypto"
	"github.com/midnight-ntwrk/midnight-indexer/internal/walletindexer"
	"github.com/midnight-ntwrk/midnight-indexer/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly, Prefix: "wallet-indexer"})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("wallet-indexer %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		log.Fatal("open store", "error", err)
	}
	defer st.Close()
	log.Info("store opened", "host", cfg.Storage.Host, "dbname", cfg.Storage.DBName)

	bus, err := pubsub.NewRedisBus(cfg.PubSub)
	if err != nil {
		log.Fatal("open pub/sub bus", "error", err)
	}
	defer bus.Close()
	log.Info("pub/sub bus connected", "url", cfg.PubSub.URL)

	box, err := walletcrypto.NewBox(cfg.Secrets.SymmetricKeyHex)
	if err != nil {
		log.Fatal("build viewing-key box", "error", err)
	}

	runtime := ledger.NewReference()
	idx := walletindexer.New(st, runtime, box, bus, cfg.WalletIndexer)

	errCh := make(chan error, 1)
	go func() { errCh <- idx.Run(ctx) }()

	log.Info("wallet indexer running", "max_concurrent_wallets", cfg.WalletIndexer.MaxConcurrentWallets)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down...")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Error("wallet indexer stopped", "error", err)
		}
	}

	log.Info("goodbye!")
}
