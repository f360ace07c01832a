package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/revittco/toolgate/internal/api"
	"github.com/revittco/toolgate/internal/config"
)

func cmdServe(args []string) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cfg, args)
	setupLogger(cfg)

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// Load YAML config into the registry if the file exists.
	if cfg.ConfigFile != "" {
		if _, err := os.Stat(cfg.ConfigFile); err == nil {
			fileCfg, err := config.LoadFile(cfg.ConfigFile)
			if err != nil {
				return err
			}
			if err := config.Apply(ctx, st.registry, fileCfg); err != nil {
				return err
			}
			slog.Info("loaded config", "file", cfg.ConfigFile)
		}
	}

	router := api.NewRouter(api.RouterDeps{
		Store:    st.db,
		Registry: st.registry,
		Engine:   st.engine,
		Limiter:  st.limiter,
		Secrets:  st.secrets,
		AuditBus: st.auditBus,
		Cache:    st.cache,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// applyFlags parses --addr=X style flags from the args list.
func applyFlags(cfg *Config, args []string) {
	for _, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--addr="); ok {
			cfg.HTTPAddr = v
		}
		if v, ok := strings.CutPrefix(arg, "--db="); ok {
			cfg.DBPath = v
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			cfg.ConfigFile = v
		}
	}
}
