// Package backend resolves the configured indicator backend by name.
package backend

import (
	"fmt"
	"strings"

	"tastream/internal/native"
	"tastream/internal/reference"
	"tastream/internal/ta"
)

// Default is used when no backend is configured.
const Default = native.Name

// Names lists the selectable backends.
func Names() []string {
	return []string{native.Name, reference.Name}
}

// Open returns the backend registered under name. An empty name selects Default.
func Open(name string) (ta.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", native.Name:
		return native.New(), nil
	case reference.Name:
		return reference.New(), nil
	}
	return nil, fmt.Errorf("unknown backend %q (want one of %s)", name, strings.Join(Names(), ", "))
}

// Other returns the backend that is not b, for cross-checking.
func Other(b ta.Backend) ta.Backend {
	if b.Name() == reference.Name {
		return native.New()
	}
	return reference.New()
}
