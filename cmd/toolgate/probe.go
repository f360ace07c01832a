package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/revittco/toolgate/internal/engine"
)

func cmdProbe(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: toolgate probe <integration-id>")
	}
	id := args[0]

	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogger(cfg)

	st, err := buildStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	res, err := st.engine.Probe(ctx, id)
	if err != nil {
		var ee *engine.Error
		if errors.As(err, &ee) {
			fmt.Printf("Probe %s: FAILED (%s)\n  %s\n", id, ee.Code, ee.Message)
			return nil
		}
		return err
	}

	fmt.Printf("Probe %s: OK\n", id)
	fmt.Printf("  latency:  %dms\n", res.LatencyMs)
	fmt.Printf("  attempts: %d\n", res.Attempts)
	fmt.Printf("  cost:     %s\n", res.Cost)
	return nil
}
