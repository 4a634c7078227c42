// Package filter selects search results by their metadata.
package filter

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dyluth/dhtc/pkg/dht"
)

// Criteria defines filtering criteria for search results.
// All filters are ANDed together - a value must match ALL criteria to pass.
type Criteria struct {
	// MetaGlobs maps a metadata name to a glob its value must match.
	// A name with pattern "*" only requires the name to be present.
	MetaGlobs map[string]string
}

// Parse builds Criteria from name=glob pairs as given on the command line.
func Parse(pairs []string) (*Criteria, error) {
	c := &Criteria{MetaGlobs: make(map[string]string, len(pairs))}
	for _, p := range pairs {
		name, glob, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed filter %q (expected name=glob)", p)
		}
		if _, err := filepath.Match(glob, ""); err != nil {
			return nil, fmt.Errorf("invalid glob in filter %q: %w", p, err)
		}
		c.MetaGlobs[name] = glob
	}
	return c, nil
}

// Matches returns true if the value's metadata satisfies every glob.
func (c *Criteria) Matches(v dht.Value) bool {
	if !c.HasFilters() {
		return true
	}
	meta := v.Meta()
	for name, glob := range c.MetaGlobs {
		value, ok := meta[name]
		if !ok {
			return false
		}
		matched, err := filepath.Match(glob, value)
		if err != nil || !matched {
			return false
		}
	}
	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c != nil && len(c.MetaGlobs) > 0
}
