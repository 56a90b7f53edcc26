package safety

import (
	"fmt"
	"strings"
)

// UnsafeMode is an externally owned bitmask that selectively disables safety
// behaviours. The engine only reads it.
type UnsafeMode uint16

const (
	UnsafeDisableDisengageOnGas           UnsafeMode = 1 << 0
	UnsafeDisableStockAEB                 UnsafeMode = 1 << 1
	UnsafeRaiseLongitudinalLimitsToISOMax UnsafeMode = 1 << 3
)

// Has reports whether every bit of flag is set.
func (m UnsafeMode) Has(flag UnsafeMode) bool {
	return m&flag == flag
}

func (m UnsafeMode) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	if m.Has(UnsafeDisableDisengageOnGas) {
		parts = append(parts, "disable_disengage_on_gas")
	}
	if m.Has(UnsafeDisableStockAEB) {
		parts = append(parts, "disable_stock_aeb")
	}
	if m.Has(UnsafeRaiseLongitudinalLimitsToISOMax) {
		parts = append(parts, "raise_longitudinal_limits_to_iso_max")
	}
	return strings.Join(parts, "|")
}

var unsafeModeNames = map[string]UnsafeMode{
	"disable_disengage_on_gas":             UnsafeDisableDisengageOnGas,
	"disable_stock_aeb":                    UnsafeDisableStockAEB,
	"raise_longitudinal_limits_to_iso_max": UnsafeRaiseLongitudinalLimitsToISOMax,
}

// ParseUnsafeMode combines flag names as printed by String.
func ParseUnsafeMode(names []string) (UnsafeMode, error) {
	var m UnsafeMode
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || name == "none" {
			continue
		}
		flag, ok := unsafeModeNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown unsafe mode flag %q", name)
		}
		m |= flag
	}
	return m, nil
}
