// Package config centralizes every tunable the three indexer daemons read
// from the environment. No component reads os.Getenv directly; all
// configuration flows through the sub-structs defined here.
//
// Env vars use a nested-key prefix scheme: APP__INFRA__STORAGE__HOST,
// APP__INFRA__PUBSUB__URL, APP__APPLICATION__API__PORT, and so on. Each
// sub-section is bound independently with kelseyhightower/envconfig, given
// a prefix built by joining section names with "__". Unknown env vars are
// never an error: envconfig only looks at the keys it knows about.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Storage configures the relational store connection.
type Storage struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     int    `envconfig:"PORT" default:"5432"`
	User     string `envconfig:"USER" default:"indexer"`
	Password string `envconfig:"PASSWORD"`
	DBName   string `envconfig:"DBNAME" default:"midnight_indexer"`
	SSLMode  string `envconfig:"SSLMODE" default:"disable"`

	MaxOpenConns int           `envconfig:"MAX_OPEN_CONNS" default:"16"`
	MaxIdleConns int           `envconfig:"MAX_IDLE_CONNS" default:"4"`
	ConnTimeout  time.Duration `envconfig:"CONN_TIMEOUT" default:"10s"`
}

// DSN returns a libpq-compatible connection string for pgx/v5/stdlib.
func (s Storage) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.Host, s.Port, s.User, s.Password, s.DBName, s.SSLMode)
}

// PubSub configures the Redis-backed event bus.
type PubSub struct {
	URL      string        `envconfig:"URL" default:"redis://localhost:6379/0"`
	DialTO   time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTO   time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
}

// Node configures the connection to the Substrate node's JSON-RPC endpoint.
type Node struct {
	URL               string        `envconfig:"URL" default:"ws://localhost:9944"`
	ReconnectInterval time.Duration `envconfig:"RECONNECT_INTERVAL" default:"2s"`
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
}

// API configures the Indexer API's HTTP/WebSocket listener and query limits.
type API struct {
	Port           int           `envconfig:"PORT" default:"8088"`
	MaxComplexity  int           `envconfig:"MAX_COMPLEXITY" default:"1000"`
	MaxDepth       int           `envconfig:"MAX_DEPTH" default:"12"`
	QueryTimeout   time.Duration `envconfig:"QUERY_TIMEOUT" default:"10s"`
	ProgressPeriod time.Duration `envconfig:"PROGRESS_PERIOD" default:"5s"`
	SchemaVersion  string        `envconfig:"SCHEMA_VERSION" default:"v1"`
}

// Secrets configures cryptographic material the indexer owns directly (the
// viewing-key storage envelope). SymmetricKeyHex must decode to exactly 32
// bytes (a ChaCha20-Poly1305 key).
type Secrets struct {
	SymmetricKeyHex string `envconfig:"SYMMETRIC_KEY" required:"true"`
}

// Network identifies which chain network this deployment indexes. The chain
// indexer logs it at startup; no other code reads it.
type Network struct {
	ID string `envconfig:"ID" default:"devnet"`
}

// WalletIndexer configures the wallet-relevance scan loop's concurrency.
type WalletIndexer struct {
	MaxConcurrentWallets int           `envconfig:"MAX_CONCURRENT_WALLETS" default:"16"`
	PageSize             int           `envconfig:"PAGE_SIZE" default:"500"`
	PollInterval         time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
}

// Config is the full, composed configuration tree for any of the three
// daemons; Load binds every sub-section, and each main() reads only the
// ones it needs.
type Config struct {
	Storage       Storage
	PubSub        PubSub
	Node          Node
	API           API
	Secrets       Secrets
	Network       Network
	WalletIndexer WalletIndexer
}

// Prefix is the root env var prefix every indexer daemon shares.
const Prefix = "APP"

// Load binds every sub-section from the environment, each under its own
// "__"-joined prefix (APP__INFRA__STORAGE__*, APP__INFRA__PUBSUB__*,
// APP__INFRA__NODE__*, APP__APPLICATION__API__*,
// APP__APPLICATION__SECRETS__*, APP__APPLICATION__NETWORK__*,
// APP__APPLICATION__WALLET_INDEXER__*).
func Load() (*Config, error) {
	var cfg Config

	sections := []struct {
		prefix string
		target interface{}
	}{
		{join(Prefix, "INFRA", "STORAGE"), &cfg.Storage},
		{join(Prefix, "INFRA", "PUBSUB"), &cfg.PubSub},
		{join(Prefix, "INFRA", "NODE"), &cfg.Node},
		{join(Prefix, "APPLICATION", "API"), &cfg.API},
		{join(Prefix, "APPLICATION", "SECRETS"), &cfg.Secrets},
		{join(Prefix, "APPLICATION", "NETWORK"), &cfg.Network},
		{join(Prefix, "APPLICATION", "WALLET_INDEXER"), &cfg.WalletIndexer},
	}

	for _, sec := range sections {
		if err := envconfig.Process(sec.prefix, sec.target); err != nil {
			return nil, fmt.Errorf("config: binding %s: %w", sec.prefix, err)
		}
	}

	return &cfg, nil
}

func join(parts ...string) string {
	return strings.Join(parts, "__")
}
