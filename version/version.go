// Package version carries the library version and the registry of SDK
// extensions reported alongside it in upload headers.
package version

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Version is the telemetry kit library version.
const Version = "0.4.0"

var extensionName = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,64}$`)

// Extensions records frameworks wrapping the library, such as a plugin for a
// cross-platform toolkit. It is safe for concurrent use.
type Extensions struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewExtensions returns an empty registry.
func NewExtensions() *Extensions {
	return &Extensions{entries: make(map[string]string)}
}

// Register records name at version, replacing an earlier registration.
func (e *Extensions) Register(name, ver string) error {
	name = strings.TrimSpace(name)
	ver = strings.TrimSpace(ver)
	if !extensionName.MatchString(name) {
		return fmt.Errorf("invalid extension name %q", name)
	}
	if ver == "" || strings.ContainsAny(ver, ",:") {
		return fmt.Errorf("invalid extension version %q", ver)
	}
	e.mu.Lock()
	e.entries[name] = ver
	e.mu.Unlock()
	return nil
}

// Header renders the registry as "name:version" pairs sorted by name and
// joined with commas. It is empty when nothing is registered.
func (e *Extensions) Header() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.entries))
	for name := range e.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ":" + e.entries[name]
	}
	return strings.Join(parts, ",")
}
