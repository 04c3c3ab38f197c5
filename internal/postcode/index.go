// Package postcode loads and enumerates the UK postcode hierarchy used to
// drive the crawl.
package postcode

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Index maps an outward code to the inward codes observed under it. It is
// loaded once at startup and treated as read-only for the rest of the run.
type Index map[string][]string

// Load reads an Index from a JSON file of the form
// {"SE14": ["6AB", "5DX"], ...}.
func Load(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read postcode index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse postcode index %s: %w", path, err)
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("postcode index %s is empty", path)
	}
	return idx, nil
}

// Save writes the Index to path as indented JSON.
func (idx Index) Save(path string) error {
	data, err := json.MarshalIndent(idx, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal postcode index: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write postcode index: %w", err)
	}
	return nil
}

// Outwards returns the outward codes in sorted order.
func (idx Index) Outwards() []string {
	out := make([]string, 0, len(idx))
	for k := range idx {
		out = append(out, Normalize(k))
	}
	sort.Strings(out)
	return out
}

// FullKeys flattens the index into sorted "OUT-IN" keys.
func (idx Index) FullKeys() []string {
	var keys []string
	for outward, inwards := range idx {
		for _, inward := range inwards {
			keys = append(keys, Join(outward, inward))
		}
	}
	sort.Strings(keys)
	return keys
}

// Add records an inward code under an outward code, skipping duplicates.
func (idx Index) Add(outward, inward string) {
	outward = Normalize(outward)
	inward = Normalize(inward)
	if outward == "" || inward == "" {
		return
	}
	for _, existing := range idx[outward] {
		if existing == inward {
			return
		}
	}
	idx[outward] = append(idx[outward], inward)
}

// Normalize upper-cases and trims a code fragment. Stored keys and store
// lookups both go through this, so the resumability check is an exact match
// on the normalized form.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Join combines outward and inward fragments into the canonical "OUT-IN"
// key form used in portal URLs and the persistence store.
func Join(outward, inward string) string {
	return Normalize(outward) + "-" + Normalize(inward)
}

// Split breaks a canonical key into its outward and inward parts. The inward
// part is empty for outward-only keys.
func Split(key string) (outward, inward string) {
	parts := strings.SplitN(Normalize(key), "-", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
