package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"escrowauction/config"
	"escrowauction/core"
	"escrowauction/core/state"
	"escrowauction/native/ledger"
	"escrowauction/observability/logging"
	telemetry "escrowauction/observability/otel"
	"escrowauction/rpc"
	"escrowauction/storage"
)

func main() {
	configFile := flag.String("config", "./auction.toml", "Path to the configuration file")
	exportPath := flag.String("export-journal", "", "Write the journal to a Parquet file and exit")
	exportAuction := flag.String("export-auction", "", "Restrict -export-journal to one auction address")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger, logCloser := logging.SetupWithFile("auctiond", cfg.Environment, logging.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	logger.Info("auctiond starting",
		slog.String("rpc_address", cfg.RPCAddress),
		slog.String("storage", cfg.Storage.Backend),
		slog.Bool("jwt", cfg.RPC.JWTEnable),
		logging.MaskField("jwt_secret", cfg.RPC.JWTSecret))

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv(telemetry.Config{
		ServiceName: "auctiond",
		Environment: cfg.Environment,
		Endpoint:    strings.TrimSpace(cfg.Telemetry.Endpoint),
		Insecure:    cfg.Telemetry.Insecure,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	}))
	if err != nil {
		logger.Error("failed to initialise telemetry", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		logger.Error("failed to open state database", slog.Any("error", err), slog.String("backend", cfg.Storage.Backend))
		os.Exit(1)
	}
	defer db.Close()

	var journal *ledger.Journal
	if dsn := strings.TrimSpace(cfg.Journal.DSN); dsn != "" {
		journal, err = ledger.OpenJournal(dsn)
		if err != nil {
			logger.Error("failed to open journal", slog.Any("error", err))
			os.Exit(1)
		}
		defer journal.Close()
	}

	if path := strings.TrimSpace(*exportPath); path != "" {
		if err := exportJournal(context.Background(), journal, path, *exportAuction, logger); err != nil {
			logger.Error("journal export failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	roles, err := resolveRoles(cfg)
	if err != nil {
		logger.Error("invalid auction roles", slog.Any("error", err))
		os.Exit(1)
	}

	host, err := core.NewHost(state.NewManager(db), core.Config{
		CodeHash:    cfg.Auction.CodeHash,
		OracleOwner: roles.oracleOwner,
		Admin:       roles.admin,
		Journal:     journal,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("failed to create host", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bootstrap(ctx, host, cfg, roles, logger); err != nil {
		logger.Error("failed to bootstrap ledger", slog.Any("error", err))
		os.Exit(1)
	}

	server, err := rpc.NewServer(host, rpc.ServerConfig{
		ReadHeaderTimeout: seconds(cfg.RPC.ReadHeaderTimeout),
		ReadTimeout:       seconds(cfg.RPC.ReadTimeout),
		WriteTimeout:      seconds(cfg.RPC.WriteTimeout),
		IdleTimeout:       seconds(cfg.RPC.IdleTimeout),
		MaxBodyBytes:      cfg.RPC.MaxBodyBytes,
		RateLimitPerSec:   cfg.RPC.RateLimitPerSec,
		RateLimitBurst:    cfg.RPC.RateLimitBurst,
		JWT: rpc.JWTConfig{
			Enable: cfg.RPC.JWTEnable,
			Secret: cfg.RPC.JWTSecret,
			Issuer: cfg.RPC.JWTIssuer,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to configure rpc server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := server.Start(ctx, cfg.RPCAddress); err != nil {
		logger.Error("rpc server stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("auctiond stopped")
}

func seconds(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Second
}
