package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/revittco/toolgate/internal/audit"
	"github.com/revittco/toolgate/internal/cache"
	"github.com/revittco/toolgate/internal/engine"
	"github.com/revittco/toolgate/internal/invoke"
	"github.com/revittco/toolgate/internal/ratelimit"
	"github.com/revittco/toolgate/internal/registry"
	"github.com/revittco/toolgate/internal/secrets"
	"github.com/revittco/toolgate/internal/store/sqlite"
	"github.com/revittco/toolgate/internal/usage"
)

// stack is the assembled service graph shared by the subcommands.
type stack struct {
	db       *sqlite.DB
	secrets  *secrets.Manager
	limiter  *ratelimit.Limiter
	usage    *usage.Accumulator
	cache    *cache.IntegrationSource
	registry *registry.Service
	engine   *engine.Engine
	auditBus *audit.Bus
}

func buildStack(ctx context.Context, cfg *Config) (*stack, error) {
	db, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	enc, err := buildEncryptor(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	sec := secrets.NewManager(db, enc)

	limiter := ratelimit.New()
	acc := usage.NewAccumulator(db)
	if err := acc.Hydrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("hydrate usage counters: %w", err)
	}

	bus := audit.NewBus()
	auditLog := audit.NewLogger(db, sec, bus)
	src := cache.NewIntegrationSource(db, cfg.CacheSize, 0)
	reg := registry.NewService(db, sec, limiter, acc, src, slog.Default())
	disp := invoke.NewDispatcher(invoke.NewHTTPInvoker(nil), invoke.NewScriptInvoker())
	eng := engine.New(src, limiter, sec, acc, auditLog, disp, slog.Default())

	return &stack{
		db:       db,
		secrets:  sec,
		limiter:  limiter,
		usage:    acc,
		cache:    src,
		registry: reg,
		engine:   eng,
		auditBus: bus,
	}, nil
}

func (s *stack) close() {
	_ = s.db.Close()
}

// buildEncryptor resolves the age identity: an explicit key file when
// configured, otherwise a persistent auto-generated key next to the DB,
// with an ephemeral identity as the last resort.
func buildEncryptor(cfg *Config) (*secrets.AgeEncryptor, error) {
	if cfg.AgeKeyPath != "" {
		enc, err := secrets.NewAgeEncryptor(cfg.AgeKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load age key: %w", err)
		}
		return enc, nil
	}

	keyPath := cfg.DBPath + ".age"
	enc, err := secrets.EnsureKeyFile(keyPath)
	if err != nil {
		slog.Warn("failed to create auto key file, falling back to ephemeral",
			"path", keyPath, "error", err)
		return secrets.NewEphemeralEncryptor()
	}
	slog.Info("using auto-generated age key", "path", keyPath)
	return enc, nil
}

func setupLogger(cfg *Config) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)
}
