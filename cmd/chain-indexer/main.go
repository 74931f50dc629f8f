// Package main runs the chain indexer daemon: it follows the node's
// finalized-head subscription, decodes and applies each block, and
// persists the result.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/midnight-ntwrk/midnight-indexer/internal/chainindexer"
	"github.com/midnight-ntwrk/midnight-indexer/internal/config"
	"github.com/midnight-ntwrk/midnight-indexer/internal/ledger"
	"github.com/midnight-ntwrk/midnight-indexer/internal/node"
	"github.com/midnight-ntwrk/midnight-indexer/internal/objectstore"
	"github.com/midnight-ntwrk/midnight-indexer/internal/pubsub"
	"github.com/midnight-ntwrk/midnight-indexer/internal/store"
	"github.com/midnight-ntwrk/midnight-indexer/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		snapshotPath = flag.String("snapshot-path", "./data/chain-indexer-snapshots.db", "Ledger-state snapshot store path")
		showVersion  = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly, Prefix: "chain-indexer"})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("chain-indexer %s (commit: %s)", version, commit)
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

	objects, err := objectstore.Open(*snapshotPath)
	if err != nil {
		log.Fatal("open object store", "error", err)
	}
	log.Info("object store opened", "path", *snapshotPath)

	bus, err := pubsub.NewRedisBus(cfg.PubSub)
	if err != nil {
		log.Fatal("open pub/sub bus", "error", err)
	}
	defer bus.Close()
	log.Info("pub/sub bus connected", "url", cfg.PubSub.URL)

	client, err := node.NewWSClient(node.WSClientConfig{
		URL:               cfg.Node.URL,
		ReconnectInterval: cfg.Node.ReconnectInterval,
		RequestTimeout:    cfg.Node.RequestTimeout,
	})
	if err != nil {
		log.Fatal("connect to node", "error", err)
	}
	defer client.Close()
	log.Info("node client connected", "url", cfg.Node.URL)

	runtime := ledger.NewReference()
	idx := chainindexer.New(client, runtime, st, objects, bus)

	errCh := make(chan error, 1)
	go func() { errCh <- idx.Run(ctx) }()

	log.Info("chain indexer running", "network", cfg.Network.ID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down...")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Error("chain indexer stopped", "error", err)
		}
	}

	log.Info("goodbye!")
}
