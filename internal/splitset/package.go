// Package splitset reconciles, verifies and merges a set of sub-bags that
// were split from one original bag.
//
// The package works on any bag format reachable through an Adapter; it never
// computes checksums or parses manifests itself.
package splitset

import (
	"context"
	"maps"
	"slices"

	"github.com/hpungsan/bagsplit/internal/manifest"
)

// Validity is the tri-state validation status of a loaded Package.
type Validity int

const (
	ValidityUnknown Validity = iota
	Valid
	Invalid
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	}
	return "unknown"
}

// Metadata is a bag's declared metadata: field name → values in file order.
type Metadata map[string][]string

// Clone returns a deep copy of m.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = slices.Clone(v)
	}
	return out
}

// Equal reports whether m and other hold the same fields and values.
func (m Metadata) Equal(other Metadata) bool {
	return maps.EqualFunc(m, other, func(a, b []string) bool { return slices.Equal(a, b) })
}

// DiffFields returns the sorted field names whose values differ between m and other.
func (m Metadata) DiffFields(other Metadata) []string {
	var fields []string
	for k, v := range m {
		if ov, ok := other[k]; !ok || !slices.Equal(v, ov) {
			fields = append(fields, k)
		}
	}
	for k := range other {
		if _, ok := m[k]; !ok {
			fields = append(fields, k)
		}
	}
	slices.Sort(fields)
	return fields
}

// Package is a bag loaded through an Adapter.
type Package struct {
	Path     string
	Entries  manifest.EntrySet
	Metadata Metadata
	Validity Validity
}

// Adapter loads, validates and seals bags on disk.
type Adapter interface {
	// Load reads the bag at path.
	Load(ctx context.Context, path string) (*Package, error)
	// Validate checks pkg's content against its manifests. A nil error means
	// the bag is valid; any error means it is not.
	Validate(ctx context.Context, pkg *Package) error
	// Seal turns a populated directory into a bag declaring metadata, with
	// manifests in the given algorithms (nil means the adapter's default),
	// and returns it loaded.
	Seal(ctx context.Context, dir string, metadata Metadata, algorithms []string) (*Package, error)
	// PayloadRoot is the directory holding pkg's payload files.
	PayloadRoot(pkg *Package) string
}

// validate runs a.Validate and records the outcome on pkg.
func validate(ctx context.Context, a Adapter, pkg *Package) error {
	err := a.Validate(ctx, pkg)
	if err != nil {
		pkg.Validity = Invalid
		return err
	}
	pkg.Validity = Valid
	return nil
}

// PayloadEntries returns the payload part of pkg's manifest entries.
func (p *Package) PayloadEntries() manifest.EntrySet {
	return manifest.FilterByPrefix(p.Entries, manifest.PayloadPrefix)
}
