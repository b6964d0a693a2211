package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Environment variables that override file settings.
const (
	EnvJWTSecret   = "AUCTION_RPC_JWT_SECRET"
	EnvEnvironment = "AUCTION_ENV"
)

type Config struct {
	RPCAddress  string    `toml:"RPCAddress"`
	DataDir     string    `toml:"DataDir"`
	Environment string    `toml:"Environment"`
	Storage     Storage   `toml:"storage"`
	Journal     Journal   `toml:"journal"`
	RPC         RPC       `toml:"rpc"`
	Logging     Logging   `toml:"logging"`
	Telemetry   Telemetry `toml:"telemetry"`
	Auction     Auction   `toml:"auction"`
	Tokens      []Token   `toml:"tokens"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err := createDefault(path)
		if err != nil {
			return nil, err
		}
		applyEnv(cfg)
		return cfg, nil
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the development configuration.
func Default() *Config {
	return &Config{
		RPCAddress:  ":8547",
		DataDir:     "./auction-data",
		Environment: "dev",
		Storage:     Storage{Backend: "leveldb"},
		RPC: RPC{
			ReadHeaderTimeout: 5,
			ReadTimeout:       15,
			WriteTimeout:      15,
			IdleTimeout:       60,
			RateLimitPerSec:   20,
			RateLimitBurst:    40,
			MaxBodyBytes:      1 << 20,
		},
		Auction: Auction{CodeHash: "escrow-auction-v1"},
		Tokens:  []Token{},
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = def.RPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = def.DataDir
	}
	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = def.Storage.Backend
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" && cfg.Storage.Backend != "memory" {
		cfg.Storage.Path = filepath.Join(cfg.DataDir, "state")
	}
	if cfg.RPC.MaxBodyBytes <= 0 {
		cfg.RPC.MaxBodyBytes = def.RPC.MaxBodyBytes
	}
	if strings.TrimSpace(cfg.Auction.CodeHash) == "" {
		cfg.Auction.CodeHash = def.Auction.CodeHash
	}
	if cfg.Tokens == nil {
		cfg.Tokens = []Token{}
	}
}

func applyEnv(cfg *Config) {
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.RPC.JWTSecret = secret
	}
	if env := strings.TrimSpace(os.Getenv(EnvEnvironment)); env != "" {
		cfg.Environment = env
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
