// Package manifest holds the path → checksum mappings exchanged between bags.
package manifest

import (
	"maps"
	"slices"
	"strings"
)

// PayloadPrefix is the conventional prefix of payload entries in a bag manifest.
const PayloadPrefix = "data/"

// UnknownSize marks an entry whose byte size was not recorded.
const UnknownSize int64 = -1

// Entry describes one file in a package: its checksums keyed by algorithm
// name ("sha256" → hex digest) and, when known, its size.
type Entry struct {
	Path      string            `json:"path"`
	Checksums map[string]string `json:"checksums"`
	Size      int64             `json:"size"`
}

// Equal reports whether two entries describe the same content: they share at
// least one algorithm and agree on every shared one. Sizes are only compared
// when both sides know them.
func (e Entry) Equal(other Entry) bool {
	if e.Size != UnknownSize && other.Size != UnknownSize && e.Size != other.Size {
		return false
	}
	shared := 0
	for alg, digest := range e.Checksums {
		od, ok := other.Checksums[alg]
		if !ok {
			continue
		}
		if od != digest {
			return false
		}
		shared++
	}
	return shared > 0
}

// EntrySet maps payload-relative path to its Entry. Paths are opaque strings.
type EntrySet map[string]Entry

// Add inserts or replaces the entry at e.Path.
func (s EntrySet) Add(e Entry) {
	s[e.Path] = e
}

// Paths returns the set's paths in sorted order.
func (s EntrySet) Paths() []string {
	return slices.Sorted(maps.Keys(s))
}

// Algorithms returns the sorted union of checksum algorithms used by the set.
func (s EntrySet) Algorithms() []string {
	seen := make(map[string]bool)
	for _, e := range s {
		for alg := range e.Checksums {
			seen[alg] = true
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Union returns a new set with every entry of a and b. On a path collision
// b's entry wins; no conflict is reported at this layer.
func Union(a, b EntrySet) EntrySet {
	out := make(EntrySet, len(a)+len(b))
	maps.Copy(out, a)
	maps.Copy(out, b)
	return out
}

// FilterByPrefix returns the entries whose path starts with prefix.
func FilterByPrefix(s EntrySet, prefix string) EntrySet {
	out := make(EntrySet)
	for path, e := range s {
		if strings.HasPrefix(path, prefix) {
			out[path] = e
		}
	}
	return out
}

// Diff is the result of DiffPayload.
type Diff struct {
	// Matched is true when every payload path of A exists in B with an equal entry.
	Matched bool `json:"matched"`
	// OnlyInA are payload entries of A absent from B. Non-empty means not matched.
	OnlyInA EntrySet `json:"only_in_a"`
	// OnlyInB are payload entries of B absent from A. Reported as a warning only.
	OnlyInB EntrySet `json:"only_in_b"`
	// Mismatched are paths present on both sides with different entries.
	Mismatched []string `json:"mismatched"`
}

// DiffPayload compares the payload entries of a against b. The comparison is
// deliberately asymmetric: a must be covered by b, while paths only in b are
// surfaced in OnlyInB without affecting Matched.
func DiffPayload(a, b EntrySet) Diff {
	pa := FilterByPrefix(a, PayloadPrefix)
	pb := FilterByPrefix(b, PayloadPrefix)

	d := Diff{
		OnlyInA:    make(EntrySet),
		OnlyInB:    make(EntrySet),
		Mismatched: []string{},
	}
	for path, ea := range pa {
		eb, ok := pb[path]
		if !ok {
			d.OnlyInA[path] = ea
			continue
		}
		if !ea.Equal(eb) {
			d.Mismatched = append(d.Mismatched, path)
		}
	}
	for path, eb := range pb {
		if _, ok := pa[path]; !ok {
			d.OnlyInB[path] = eb
		}
	}
	slices.Sort(d.Mismatched)
	d.Matched = len(d.OnlyInA) == 0 && len(d.Mismatched) == 0
	return d
}
