package telemetry

import (
	"fmt"
	"sort"
	"strings"
)

// StatusProvider is implemented by kernel components that expose a read-only
// snapshot for inspection tooling.
type StatusProvider interface {
	Status() map[string]any
	Summary() string
}

// FormatSummary renders "name: k=v, k=v" with keys in sorted order.
func FormatSummary(name string, status map[string]any) string {
	keys := make([]string, 0, len(status))
	for key := range status {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, status[key]))
	}
	return name + ": " + strings.Join(parts, ", ")
}
