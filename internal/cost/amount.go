package cost

import (
	"math"
	"strconv"
)

// Amount is a monetary value in micro-units of the integration's currency.
// Sums of per-execution charges stay exact; conversion to a float happens
// only at the serialization boundary.
type Amount int64

const microsPerUnit = 1e6

// FromFloat converts a currency value (e.g. 0.01) to micro-units,
// rounding half away from zero.
func FromFloat(v float64) Amount {
	return Amount(math.Round(v * microsPerUnit))
}

// Float64 returns the value in currency units.
func (a Amount) Float64() float64 {
	return float64(a) / microsPerUnit
}

// String formats the amount in currency units with trailing zeros trimmed.
func (a Amount) String() string {
	return strconv.FormatFloat(a.Float64(), 'f', -1, 64)
}

// MarshalJSON encodes the amount as a JSON number in currency units.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON decodes a JSON number in currency units.
func (a *Amount) UnmarshalJSON(data []byte) error {
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*a = FromFloat(v)
	return nil
}
