package splitset

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hpungsan/bagsplit/internal/errors"
	"github.com/hpungsan/bagsplit/internal/manifest"
)

// VerifyOptions control Verify.
type VerifyOptions struct {
	// SkipValidation skips checksum validation of every bag.
	SkipValidation bool
	Logger         *slog.Logger
}

// PackageResult is the scan outcome for one bag.
type PackageResult struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Validity string `json:"validity"`
	Entries  int    `json:"entries"`
	Error    string `json:"error,omitempty"`
}

// VerifyReport is the outcome of Verify.
type VerifyReport struct {
	// OK is false if any bag failed validation or the payloads disagree.
	OK               bool              `json:"ok"`
	Original         PackageResult     `json:"original"`
	SubPackages      []PackageResult   `json:"sub_packages"`
	MetadataPackage  *PackageResult    `json:"metadata_package,omitempty"`
	AllEntries       manifest.EntrySet `json:"-"`
	Diff             manifest.Diff     `json:"diff"`
	MissingFromSplit []string          `json:"missing_from_split"`
}

// Verify checks that the sub-bags in splitDir together carry exactly the
// original bag's payload.
//
// Validation failures never abort the scan: every bag is examined and the
// report's OK flag summarizes the result. Only structural problems (missing
// directories, an ambiguous metadata bag, an unreadable original) return an
// error.
func Verify(ctx context.Context, a Adapter, originalPath, splitDir string, opts VerifyOptions) (*VerifyReport, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	originalAbs, err := requireDir("original bag", originalPath)
	if err != nil {
		return nil, err
	}
	set, err := Discover(splitDir)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{OK: true, AllEntries: make(manifest.EntrySet)}

	scan := func(path string, kind Kind) PackageResult {
		result := PackageResult{Path: path, Kind: kind.String(), Validity: ValidityUnknown.String()}
		pkg, err := a.Load(ctx, path)
		if err != nil {
			log.Error("cannot load bag", "bag", path, "error", err)
			result.Validity = Invalid.String()
			result.Error = err.Error()
			report.OK = false
			return result
		}
		result.Entries = len(pkg.PayloadEntries())

		if opts.SkipValidation {
			log.Info("skipping verification", "bag", path)
		} else {
			log.Info("verifying bag", "bag", path)
			if err := validate(ctx, a, pkg); err != nil {
				log.Error("bag failed verification", "bag", path, "error", err)
				result.Error = err.Error()
				report.OK = false
			} else {
				log.Info("bag verified", "bag", path)
			}
			result.Validity = pkg.Validity.String()
		}

		// The metadata bag carries the original's tag files, not its payload.
		if kind == KindSubPackage && (opts.SkipValidation || pkg.Validity == Valid) {
			report.AllEntries = manifest.Union(report.AllEntries, pkg.PayloadEntries())
		}
		return result
	}

	for _, path := range set.SubPackages {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("split check")
		}
		report.SubPackages = append(report.SubPackages, scan(path, KindSubPackage))
	}
	if set.MetadataPackage != "" {
		result := scan(set.MetadataPackage, KindMetadataPackage)
		report.MetadataPackage = &result
	}

	original, err := a.Load(ctx, originalAbs)
	if err != nil {
		return nil, errors.NewValidationFailure([]string{originalAbs}, fmt.Sprintf("cannot load original bag: %v", err))
	}
	report.Original = PackageResult{
		Path:     originalAbs,
		Kind:     "original",
		Validity: ValidityUnknown.String(),
		Entries:  len(original.PayloadEntries()),
	}
	if opts.SkipValidation {
		log.Info("not verifying original bag at user's request")
	} else {
		log.Info("verifying original bag integrity", "bag", originalAbs)
		if err := validate(ctx, a, original); err != nil {
			log.Error("original bag failed verification", "bag", originalAbs, "error", err)
			report.Original.Error = err.Error()
			report.OK = false
		}
		report.Original.Validity = original.Validity.String()
	}

	report.Diff = manifest.DiffPayload(report.AllEntries, original.Entries)
	report.MissingFromSplit = report.Diff.OnlyInB.Paths()
	if report.Diff.Matched {
		log.Info("original manifest entries match the split manifests' entries")
	} else {
		log.Error("original manifest does not match the split manifests",
			"not_in_original", report.Diff.OnlyInA.Paths(),
			"mismatched", report.Diff.Mismatched)
		report.OK = false
	}
	if len(report.MissingFromSplit) > 0 {
		log.Warn("entries present in the original bag but not in the split bags",
			"paths", report.MissingFromSplit)
	}

	return report, nil
}
