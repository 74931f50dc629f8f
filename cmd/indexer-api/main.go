// Package main runs the indexer API daemon: a GraphQL HTTP endpoint plus a
// WebSocket subscription endpoint, both backed by the indexed store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/midnight-ntwrk/midnight-indexer/internal/api"
	"github.com/midnight-ntwrk/midnight-indexer/internal/config"
	"github.com/midnight-ntwrk/midnight-indexer/internal/pubsub"
	"github.com/midnight-ntwrk/midnight-indexer/internal/store"
	"github.com/midnight-ntwrk/midnight-indexer/internal/walletcrypto"
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

	log := logging.New(&logging.Config{Level: *logLevel, TimeFormat: time.TimeOnly, Prefix: "indexer-api"})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("indexer-api %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", "error", err)
	}

	st, err := store.Open(context.Background(), cfg.Storage)
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

	server, err := api.NewServer(st, box, bus, cfg.API, log)
	if err != nil {
		log.Fatal("build api server", "error", err)
	}

	addr := fmt.Sprintf(":%d", cfg.API.Port)
	if err := server.Start(addr); err != nil {
		log.Fatal("start api server", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down...")
	if err := server.Stop(); err != nil {
		log.Error("api server shutdown", "error", err)
	}

	log.Info("goodbye!")
}
