package registry

import (
	"fmt"
	"strings"

	"github.com/revittco/toolgate/internal/store"
)

// ValidationError holds all validation failures for one registration.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("integration validation failed: %s", strings.Join(e.Errors, "; "))
}

// validate checks a registration for correctness. All problems are
// reported at once rather than one per round trip.
func validate(i *store.Integration) error {
	var errs []string

	if i.ID == "" {
		errs = append(errs, "id is required")
	}
	if i.Name == "" {
		errs = append(errs, "name is required")
	}
	if !store.ValidIntegrationType(i.Type) {
		errs = append(errs, fmt.Sprintf("invalid type %q", i.Type))
	}
	if i.Authentication.Type != "" && !store.ValidAuthType(i.Authentication.Type) {
		errs = append(errs, fmt.Sprintf("invalid auth type %q", i.Authentication.Type))
	}
	if err := i.Cost.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRateLimit(i.RateLimit); err != nil {
		errs = append(errs, err.Error())
	}

	_, hasScript := i.Config["script"].(string)
	_, hasBaseURL := i.Config["baseUrl"].(string)
	if !hasScript && !hasBaseURL {
		errs = append(errs, "config must carry a baseUrl or a script")
	}

	seen := make(map[string]bool, len(i.Capabilities))
	for _, c := range i.Capabilities {
		if c == "" {
			errs = append(errs, "capabilities must not contain empty names")
			continue
		}
		if seen[c] {
			errs = append(errs, fmt.Sprintf("duplicate capability %q", c))
		}
		seen[c] = true
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func validateRateLimit(rl store.RateLimitConfig) error {
	if rl.RequestsPerMinute < 0 || rl.RequestsPerHour < 0 ||
		rl.RequestsPerDay < 0 || rl.Concurrent < 0 {
		return fmt.Errorf("rate limits must be non-negative (0 disables a limit)")
	}
	return nil
}
