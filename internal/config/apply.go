package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/revittco/toolgate/internal/cost"
	"github.com/revittco/toolgate/internal/registry"
	"github.com/revittco/toolgate/internal/store"
)

// Apply upserts integrations from config through the registry. Items from
// YAML are tagged with source="yaml"; stale yaml-sourced records that no
// longer appear in the file are removed automatically. A stale record with
// executions still in flight is deactivated instead and picked up by the
// prune on the next apply.
func Apply(ctx context.Context, reg *registry.Service, cfg *FileConfig) error {
	yamlIDs := make(map[string]bool, len(cfg.Integrations))
	for _, ic := range cfg.Integrations {
		yamlIDs[ic.ID] = true
		r := registry.Registration{Integration: toRecord(ic)}
		if ic.Secrets != nil {
			r.Secrets = ic.Secrets
		}
		if _, err := reg.Register(ctx, r); err != nil {
			return fmt.Errorf("apply integration %s: %w", ic.ID, err)
		}
	}
	return pruneStale(ctx, reg, yamlIDs)
}

func toRecord(ic integrationConfig) store.Integration {
	return store.Integration{
		ID:          ic.ID,
		Name:        ic.Name,
		Description: ic.Description,
		Provider:    ic.Provider,
		Type:        ic.Type,
		Version:     ic.Version,
		Config:      ic.Config,
		Authentication: store.AuthConfig{
			Type:   ic.Auth.Type,
			Config: ic.Auth.Config,
		},
		Capabilities: ic.Capabilities,
		RateLimit: store.RateLimitConfig{
			RequestsPerMinute: ic.RateLimit.RequestsPerMinute,
			RequestsPerHour:   ic.RateLimit.RequestsPerHour,
			RequestsPerDay:    ic.RateLimit.RequestsPerDay,
			Concurrent:        ic.RateLimit.Concurrent,
		},
		Cost: cost.Model{
			Type:     ic.Cost.Type,
			Amount:   ic.Cost.Amount,
			Currency: ic.Cost.Currency,
			Unit:     ic.Cost.Unit,
		},
		Source: "yaml",
	}
}

func pruneStale(ctx context.Context, reg *registry.Service, yamlIDs map[string]bool) error {
	all, err := reg.List(ctx)
	if err != nil {
		return fmt.Errorf("list integrations for prune: %w", err)
	}
	for _, integ := range all {
		if integ.Source != "yaml" || yamlIDs[integ.ID] {
			continue
		}
		slog.Info("pruning stale yaml integration", "integration", integ.ID)
		if err := reg.Remove(ctx, integ.ID); err != nil {
			if registry.IsConflict(err) {
				slog.Warn("stale integration busy, deactivating instead", "integration", integ.ID)
				if err := reg.Deactivate(ctx, integ.ID); err != nil {
					return fmt.Errorf("deactivate stale integration %s: %w", integ.ID, err)
				}
				continue
			}
			return fmt.Errorf("remove stale integration %s: %w", integ.ID, err)
		}
	}
	return nil
}
