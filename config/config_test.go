package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != ":8547" || cfg.Storage.Backend != "leveldb" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Storage.Path != filepath.Join("./auction-data", "state") {
		t.Fatalf("unexpected storage path %q", cfg.Storage.Path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default file to be written: %v", err)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.RPC.RateLimitBurst != cfg.RPC.RateLimitBurst {
		t.Fatalf("reloaded config differs: %+v", again.RPC)
	}
}

func TestLoadParsesTokensAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `RPCAddress = "127.0.0.1:9000"
DataDir = "./data"

[storage]
Backend = "bolt"

[rpc]
JWTEnable = true
RateLimitPerSec = 5.5

[auction]
OracleOwner = "0x00000000000000000000000000000000000000aa"

[[tokens]]
Address = "0x00000000000000000000000000000000000000b1"
Symbol = "BID"
Decimals = 6

[[tokens.Mint]]
Holder = "0x0000000000000000000000000000000000000001"
Amount = "1000"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), EnvJWTSecret) {
		t.Fatalf("expected missing secret error, got %v", err)
	}

	t.Setenv(EnvJWTSecret, "s3cret")
	t.Setenv(EnvEnvironment, "staging")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPC.JWTSecret != "s3cret" || cfg.Environment != "staging" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Storage.Path != filepath.Join("./data", "state") || cfg.RPC.RateLimitPerSec != 5.5 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Tokens) != 1 || len(cfg.Tokens[0].Mint) != 1 || cfg.Tokens[0].Mint[0].Amount != "1000" {
		t.Fatalf("unexpected tokens: %+v", cfg.Tokens)
	}
}

func TestValidateConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"backend", func(c *Config) { c.Storage.Backend = "redis" }},
		{"owner", func(c *Config) { c.Auction.OracleOwner = "not-an-address" }},
		{"rate", func(c *Config) { c.RPC.RateLimitBurst = -1 }},
		{"token address", func(c *Config) { c.Tokens = []Token{{Address: "0x1", Symbol: "X"}} }},
		{"amount", func(c *Config) {
			c.Tokens = []Token{{
				Address: "0x00000000000000000000000000000000000000b1",
				Symbol:  "BID",
				Mint:    []Allocation{{Holder: "0x0000000000000000000000000000000000000001", Amount: "-5"}},
			}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := ValidateConfig(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	if err := ValidateConfig(Default()); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}
