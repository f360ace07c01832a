package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/revittco/toolgate/internal/ratelimit"
	"github.com/revittco/toolgate/internal/store/sqlite"
)

func cmdDryRun(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: toolgate dry-run <integration-id> [tool-name]")
	}
	id := args[0]
	tool := ""
	if len(args) > 1 {
		tool = args[1]
	}

	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := sqlite.New(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	integ, err := db.GetIntegration(ctx, id)
	if err != nil {
		return fmt.Errorf("integration %q not found: %w", id, err)
	}

	fmt.Printf("Dry-run: integration=%s tool=%s\n", id, tool)
	fmt.Printf("  Integration: %s (type=%s, active=%v)\n\n", integ.Name, integ.Type, integ.IsActive)

	switch {
	case !integ.IsActive:
		fmt.Println("  REFUSED: integration is not active")
	case tool != "" && !integ.HasCapability(tool):
		fmt.Printf("  REFUSED: no capability %q (has %v)\n", tool, integ.Capabilities)
	default:
		// A fresh process carries no window state; this reports the
		// configured limits rather than live counters.
		limiter := ratelimit.New()
		if err := limiter.Check(id, integ.RateLimit); err != nil {
			var le *ratelimit.LimitError
			if errors.As(err, &le) {
				fmt.Printf("  REFUSED: %s limit of %d\n", le.Scope, le.Limit)
				return nil
			}
			return err
		}
		fmt.Println("  ADMITTED")
		fmt.Printf("    limits:  %d/min %d/hr %d/day, %d concurrent (0 = unlimited)\n",
			integ.RateLimit.RequestsPerMinute, integ.RateLimit.RequestsPerHour,
			integ.RateLimit.RequestsPerDay, integ.RateLimit.Concurrent)
		fmt.Printf("    cost:    %s %s (%s)\n", integ.Cost.Currency,
			fmtAmount(integ.Cost.Amount), integ.Cost.Type)
	}
	return nil
}

func fmtAmount(v float64) string {
	return fmt.Sprintf("%g", v)
}
