package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"escrowauction/config"
	"escrowauction/core"
	"escrowauction/native/auction"
	"escrowauction/native/ledger"
	"escrowauction/native/oracle"
)

type hostRoles struct {
	admin       [20]byte
	oracleOwner [20]byte
}

func resolveRoles(cfg *config.Config) (hostRoles, error) {
	var roles hostRoles
	if raw := strings.TrimSpace(cfg.Auction.Admin); raw != "" {
		addr, err := auction.ParseAddress(raw)
		if err != nil {
			return roles, fmt.Errorf("admin: %w", err)
		}
		roles.admin = addr
	}
	if raw := strings.TrimSpace(cfg.Auction.OracleOwner); raw != "" {
		addr, err := auction.ParseAddress(raw)
		if err != nil {
			return roles, fmt.Errorf("oracle owner: %w", err)
		}
		roles.oracleOwner = addr
	}
	return roles, nil
}

// bootstrap registers the configured tokens and loads the history seed.
// Allocations are minted only when a token is registered for the first time
// so restarts do not inflate supply.
func bootstrap(ctx context.Context, host *core.Host, cfg *config.Config, roles hostRoles, logger *slog.Logger) error {
	for i, tc := range cfg.Tokens {
		addr, err := auction.ParseAddress(tc.Address)
		if err != nil {
			return fmt.Errorf("tokens[%d]: %w", i, err)
		}
		tok := &ledger.Token{
			Address:  addr,
			CodeHash: tc.CodeHash,
			Name:     tc.Name,
			Symbol:   tc.Symbol,
			Decimals: tc.Decimals,
		}
		err = host.RegisterToken(ctx, roles.admin, tok)
		if errors.Is(err, ledger.ErrTokenExists) {
			logger.Debug("token already registered", slog.String("symbol", tc.Symbol))
			continue
		}
		if err != nil {
			return fmt.Errorf("register %s: %w", tc.Symbol, err)
		}
		for j, alloc := range tc.Mint {
			holder, err := auction.ParseAddress(alloc.Holder)
			if err != nil {
				return fmt.Errorf("tokens[%d].mint[%d]: %w", i, j, err)
			}
			amount, err := config.ParseAmount(alloc.Amount)
			if err != nil {
				return fmt.Errorf("tokens[%d].mint[%d]: %w", i, j, err)
			}
			if err := host.Mint(ctx, roles.admin, addr, holder, amount); err != nil {
				return fmt.Errorf("mint %s: %w", tc.Symbol, err)
			}
		}
		logger.Info("token registered", slog.String("symbol", tc.Symbol), slog.String("address", auction.FormatAddress(addr)))
	}

	if path := strings.TrimSpace(cfg.Auction.HistorySeed); path != "" {
		seeds, err := oracle.LoadSeed(path)
		if err != nil {
			return err
		}
		for _, seed := range seeds {
			if err := host.AddHistory(ctx, roles.oracleOwner, seed.User, seed.History); err != nil {
				return fmt.Errorf("seed history %s: %w", auction.FormatAddress(seed.User), err)
			}
		}
		logger.Info("credit histories seeded", slog.Int("count", len(seeds)))
	}
	return nil
}

func exportJournal(ctx context.Context, journal *ledger.Journal, path, auctionAddr string, logger *slog.Logger) error {
	if journal == nil {
		return fmt.Errorf("journal export requires journal.DSN")
	}
	filter := ""
	if trimmed := strings.TrimSpace(auctionAddr); trimmed != "" {
		addr, err := auction.ParseAddress(trimmed)
		if err != nil {
			return err
		}
		filter = auction.FormatAddress(addr)
	}
	result, err := journal.ExportParquet(ctx, path, filter)
	if err != nil {
		return err
	}
	logger.Info("journal exported",
		slog.String("path", result.Path),
		slog.Int("rows", result.Rows),
		slog.String("blake3", result.Checksum))
	return nil
}
