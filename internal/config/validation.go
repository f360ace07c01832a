package config

import (
	"fmt"
	"strings"

	"github.com/revittco/toolgate/internal/cost"
	"github.com/revittco/toolgate/internal/store"
)

// ValidationError holds all validation failures for a config file.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Errors, "; "))
}

// validate checks the parsed config for correctness. The registry performs
// the full record validation on apply; this pass catches the file-level
// problems a deep upsert would report one at a time.
func validate(cfg *FileConfig) error {
	var errs []string

	ids := make(map[string]bool, len(cfg.Integrations))
	for i, ic := range cfg.Integrations {
		if ic.ID == "" {
			errs = append(errs, fmt.Sprintf("integrations[%d]: id is required", i))
		}
		if ids[ic.ID] {
			errs = append(errs, fmt.Sprintf("integrations[%d]: duplicate id %q", i, ic.ID))
		}
		ids[ic.ID] = true
		if ic.Name == "" {
			errs = append(errs, fmt.Sprintf("integrations[%d]: name is required", i))
		}
		if !store.ValidIntegrationType(ic.Type) {
			errs = append(errs, fmt.Sprintf("integrations[%d]: invalid type %q", i, ic.Type))
		}
		if ic.Auth.Type != "" && !store.ValidAuthType(ic.Auth.Type) {
			errs = append(errs, fmt.Sprintf("integrations[%d]: invalid auth type %q", i, ic.Auth.Type))
		}
		if !cost.ValidType(ic.Cost.Type) {
			errs = append(errs, fmt.Sprintf("integrations[%d]: invalid cost type %q", i, ic.Cost.Type))
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}
