package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ValidateConfig rejects configurations the node cannot start with.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case "", "leveldb", "bolt", "bbolt", "memory":
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	if cfg.RPC.JWTEnable && strings.TrimSpace(cfg.RPC.JWTSecret) == "" {
		return fmt.Errorf("rpc: JWTEnable requires a secret (set %s)", EnvJWTSecret)
	}
	if cfg.RPC.RateLimitPerSec < 0 || cfg.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	for _, field := range []struct{ name, value string }{
		{"auction.OracleOwner", cfg.Auction.OracleOwner},
		{"auction.Admin", cfg.Auction.Admin},
	} {
		if field.value != "" && !common.IsHexAddress(field.value) {
			return fmt.Errorf("%s: invalid address %q", field.name, field.value)
		}
	}
	seen := make(map[common.Address]struct{}, len(cfg.Tokens))
	for i, tok := range cfg.Tokens {
		if !common.IsHexAddress(tok.Address) {
			return fmt.Errorf("tokens[%d]: invalid address %q", i, tok.Address)
		}
		addr := common.HexToAddress(tok.Address)
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("tokens[%d]: duplicate address %s", i, addr.Hex())
		}
		seen[addr] = struct{}{}
		if strings.TrimSpace(tok.Symbol) == "" {
			return fmt.Errorf("tokens[%d]: symbol required", i)
		}
		for j, alloc := range tok.Mint {
			if !common.IsHexAddress(alloc.Holder) {
				return fmt.Errorf("tokens[%d].Mint[%d]: invalid holder %q", i, j, alloc.Holder)
			}
			if _, err := ParseAmount(alloc.Amount); err != nil {
				return fmt.Errorf("tokens[%d].Mint[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

// ParseAmount parses a positive decimal token amount.
func ParseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}
