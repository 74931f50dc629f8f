package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP__APPLICATION__SECRETS__SYMMETRIC_KEY", "0011223344556677001122334455667700112233445566770011223344556677")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Host != "localhost" {
		t.Errorf("expected default storage host localhost, got %s", cfg.Storage.Host)
	}
	if cfg.Storage.Port != 5432 {
		t.Errorf("expected default storage port 5432, got %d", cfg.Storage.Port)
	}
	if cfg.API.Port != 8088 {
		t.Errorf("expected default API port 8088, got %d", cfg.API.Port)
	}
	if cfg.Network.ID != "devnet" {
		t.Errorf("expected default network id devnet, got %s", cfg.Network.ID)
	}
	if cfg.WalletIndexer.MaxConcurrentWallets != 16 {
		t.Errorf("expected default max concurrent wallets 16, got %d", cfg.WalletIndexer.MaxConcurrentWallets)
	}
}

func TestLoadOverridesNestedKeys(t *testing.T) {
	t.Setenv("APP__APPLICATION__SECRETS__SYMMETRIC_KEY", "00")
	t.Setenv("APP__INFRA__STORAGE__HOST", "db.internal")
	t.Setenv("APP__INFRA__STORAGE__PORT", "6543")
	t.Setenv("APP__APPLICATION__API__PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Host != "db.internal" {
		t.Errorf("expected overridden storage host, got %s", cfg.Storage.Host)
	}
	if cfg.Storage.Port != 6543 {
		t.Errorf("expected overridden storage port, got %d", cfg.Storage.Port)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("expected overridden API port, got %d", cfg.API.Port)
	}
}

func TestLoadMissingRequiredSecret(t *testing.T) {
	if _, err := Load(); err == nil {
		t.Error("expected error when symmetric key is unset")
	}
}
