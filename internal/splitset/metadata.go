package splitset

import (
	"slices"
	"strings"

	"github.com/hpungsan/bagsplit/internal/errors"
)

// VolatileFields are bag-info fields that legitimately differ between the
// sub-bags of one split: computed sizes and counts, the bagging date, and the
// partition label used when a bag was split by file type.
var VolatileFields = []string{
	"Payload-Oxum",
	"Bag-Size",
	"Bag-Count",
	"Bagging-Date",
	"File-Type",
}

// CommonMetadata returns a copy of m without VolatileFields or any of extra.
// Field names match case-insensitively.
func CommonMetadata(m Metadata, extra ...string) Metadata {
	volatile := append(slices.Clone(VolatileFields), extra...)
	out := make(Metadata, len(m))
	for k, v := range m {
		if slices.ContainsFunc(volatile, func(f string) bool { return strings.EqualFold(f, k) }) {
			continue
		}
		out[k] = slices.Clone(v)
	}
	return out
}

// Reconcile checks that every package declares the same common metadata and
// returns it. Packages are compared in path order against the first one; the
// first divergence fails with METADATA_MISMATCH carrying both mappings.
func Reconcile(pkgs []*Package, extraVolatile ...string) (Metadata, error) {
	if len(pkgs) == 0 {
		return nil, errors.NewInvalidRequest("no bags to reconcile")
	}
	sorted := slices.Clone(pkgs)
	slices.SortFunc(sorted, func(a, b *Package) int { return strings.Compare(a.Path, b.Path) })

	first := sorted[0]
	common := CommonMetadata(first.Metadata, extraVolatile...)
	for _, pkg := range sorted[1:] {
		other := CommonMetadata(pkg.Metadata, extraVolatile...)
		if !common.Equal(other) {
			return nil, errors.NewMetadataMismatch(first.Path, pkg.Path, common, other, common.DiffFields(other))
		}
	}
	return common, nil
}
