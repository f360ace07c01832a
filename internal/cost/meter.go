package cost

import "fmt"

// Pricing model types.
const (
	TypeFlatRate   = "flat_rate"
	TypePerRequest = "per_request"
	TypePerToken   = "per_token"
	TypePerMinute  = "per_minute"
)

// Model is the pricing formula attached to an integration.
type Model struct {
	Type     string  `json:"type"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Unit     string  `json:"unit,omitempty"`
}

// ValidType reports whether t is a known pricing model type.
func ValidType(t string) bool {
	switch t {
	case TypeFlatRate, TypePerRequest, TypePerToken, TypePerMinute:
		return true
	}
	return false
}

// Usage is the consumption metadata a tool call reports back.
// A nil *Usage means the underlying call supplied no metadata channel.
type Usage struct {
	Tokens     int64 `json:"tokens,omitempty"`
	DurationMs int64 `json:"durationMs,omitempty"`
}

// Meter computes the charge for one completed execution. The second return
// value is true when the quantity had to be estimated because the tool call
// did not report the metadata the model depends on; in that case a nominal
// quantity of 1 is charged rather than silently under-billing.
func Meter(m Model, u *Usage) (Amount, bool) {
	switch m.Type {
	case TypeFlatRate, TypePerRequest:
		return FromFloat(m.Amount), false
	case TypePerToken:
		if u == nil || u.Tokens <= 0 {
			return FromFloat(m.Amount), true
		}
		return FromFloat(m.Amount * float64(u.Tokens)), false
	case TypePerMinute:
		if u == nil || u.DurationMs <= 0 {
			return FromFloat(m.Amount), true
		}
		minutes := float64(u.DurationMs) / 60000.0
		return FromFloat(m.Amount * minutes), false
	default:
		// Unknown models are rejected at registration; charge nothing here.
		return 0, true
	}
}

// MeterFailure computes the charge for an execution that completed with a
// tool-reported failure. flat_rate and per_request price the successful
// outcome, so they charge nothing here; the usage-quantified models charge
// exactly what the call reported consuming, with no estimated fallback —
// a failure that reported nothing measurable costs nothing.
func MeterFailure(m Model, u *Usage) Amount {
	if u == nil {
		return 0
	}
	switch m.Type {
	case TypePerToken:
		if u.Tokens > 0 {
			return FromFloat(m.Amount * float64(u.Tokens))
		}
	case TypePerMinute:
		if u.DurationMs > 0 {
			return FromFloat(m.Amount * float64(u.DurationMs) / 60000.0)
		}
	}
	return 0
}

// Validate checks a cost model for registration.
func (m Model) Validate() error {
	if !ValidType(m.Type) {
		return fmt.Errorf("invalid cost type %q", m.Type)
	}
	if m.Amount < 0 {
		return fmt.Errorf("cost amount must be non-negative, got %v", m.Amount)
	}
	return nil
}
