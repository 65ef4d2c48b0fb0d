package plans

import (
	"errors"
	"sort"
	"strings"
)

// Built-in plan names.
const (
	Free       = "Free"
	Basic      = "Basic"
	Pro        = "Pro"
	Enterprise = "Enterprise"
)

// ErrUnknownPlan indicates a plan name outside the catalog.
var ErrUnknownPlan = errors.New("unknown plan")

// defaultAllotments maps each built-in plan to its message allotment.
var defaultAllotments = map[string]int64{
	Free:       10,
	Basic:      100,
	Pro:        1000,
	Enterprise: 10000,
}

// Catalog resolves plan names to message allotments.
type Catalog struct {
	allotments map[string]int64
	names      map[string]string // lower-case name -> canonical name
}

// NewCatalog builds a catalog from the built-in plans plus overrides.
// Overrides with a non-positive allotment are ignored.
func NewCatalog(overrides map[string]int64) *Catalog {
	c := &Catalog{
		allotments: make(map[string]int64, len(defaultAllotments)+len(overrides)),
		names:      make(map[string]string, len(defaultAllotments)+len(overrides)),
	}
	for name, allotment := range defaultAllotments {
		c.set(name, allotment)
	}
	for name, allotment := range overrides {
		name = strings.TrimSpace(name)
		if name == "" || allotment <= 0 {
			continue
		}
		if canonical, ok := c.names[strings.ToLower(name)]; ok {
			name = canonical
		}
		c.set(name, allotment)
	}
	return c
}

// Default returns a catalog with only the built-in plans.
func Default() *Catalog { return NewCatalog(nil) }

func (c *Catalog) set(name string, allotment int64) {
	c.allotments[name] = allotment
	c.names[strings.ToLower(name)] = name
}

// Resolve returns the canonical plan name and its allotment.
func (c *Catalog) Resolve(name string) (string, int64, error) {
	canonical, ok := c.names[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", 0, ErrUnknownPlan
	}
	return canonical, c.allotments[canonical], nil
}

// Names returns the plan names ordered by allotment.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.allotments))
	for name := range c.allotments {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		if c.allotments[out[i]] == c.allotments[out[j]] {
			return out[i] < out[j]
		}
		return c.allotments[out[i]] < c.allotments[out[j]]
	})
	return out
}
