// Package modes is the registry of named safety rule sets.
package modes

import (
	"errors"
	"fmt"
	"sort"

	"can-safety-gateway/internal/safety"
	"can-safety-gateway/internal/safety/nooutput"
	"can-safety-gateway/internal/safety/subaru"
)

// Default is the mode used when none is configured.
const Default = "nooutput"

// ErrUnknownMode is returned by Lookup for an unregistered name.
var ErrUnknownMode = errors.New("modes: unknown safety mode")

// Factory builds a fresh variant.
type Factory func() safety.Variant

var registry = map[string]Factory{
	"nooutput":      nooutput.New,
	"subaru":        func() safety.Variant { return subaru.Standard() },
	"subaru-hybrid": func() safety.Variant { return subaru.Hybrid() },
}

// Lookup returns a new variant for the named mode.
func Lookup(name string) (safety.Variant, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, name)
	}
	return f(), nil
}

// Names lists the registered modes in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
