package splitset

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hpungsan/bagsplit/internal/errors"
	"github.com/hpungsan/bagsplit/internal/manifest"
	"github.com/hpungsan/bagsplit/internal/mergetree"
)

// UnsplitOptions control Unsplit.
type UnsplitOptions struct {
	// Output overrides the merge destination. Relative paths resolve against WorkDir.
	Output  string
	WorkDir string
	// SkipValidation skips checksum validation of the sub-bags and of the
	// final merged bag. The metadata bag is always validated.
	SkipValidation bool
	// ExtraVolatileFields are stripped from metadata before reconciling.
	ExtraVolatileFields []string
	// Merge configures how sub-bag payloads are copied into the destination.
	Merge mergetree.Options
	// Algorithms seal the merged bag when the sub-bags' manifests name none.
	Algorithms []string
	Logger     *slog.Logger
}

// MergeResult is the outcome of a successful Unsplit.
type MergeResult struct {
	MergedPath         string
	MergedPackage      *Package
	AccumulatedEntries manifest.EntrySet
	// Consistent is true when the merged manifest matched the sub-bag entries.
	Consistent      bool
	SubPackages     []string
	MetadataPackage string
	Metadata        Metadata
	// Validated is true when the final bag was validated after the metadata
	// bag's content was restored.
	Validated bool
}

// Unsplit reassembles the sub-bags in splitDir into a new bag.
//
// Nothing is written until every sub-bag has loaded, validated and agreed on
// its common metadata. Once writing starts any failure is fatal and the
// partial merge is left on disk for inspection.
func Unsplit(ctx context.Context, a Adapter, splitDir string, opts UnsplitOptions) (*MergeResult, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	set, err := Discover(splitDir)
	if err != nil {
		return nil, err
	}
	if len(set.SubPackages) == 0 {
		return nil, errors.NewNoSubPackagesFound(set.Dir)
	}

	accumulated := make(manifest.EntrySet)
	pkgs := make([]*Package, 0, len(set.SubPackages))
	var failed []string
	for _, path := range set.SubPackages {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("unsplit")
		}
		pkg, err := a.Load(ctx, path)
		if err != nil {
			log.Error("cannot load bag", "bag", path, "error", err)
			failed = append(failed, path)
			continue
		}
		if opts.SkipValidation {
			log.Info("skipping verification", "bag", path)
		} else {
			log.Info("validating bag", "bag", path)
			if err := validate(ctx, a, pkg); err != nil {
				log.Error("bag failed validation", "bag", path, "error", err)
				failed = append(failed, path)
				continue
			}
		}
		accumulated = manifest.Union(accumulated, pkg.PayloadEntries())
		pkgs = append(pkgs, pkg)
	}
	if len(failed) > 0 {
		return nil, errors.NewValidationFailure(failed, "sub-bags are unusable")
	}

	common, err := Reconcile(pkgs, opts.ExtraVolatileFields...)
	if err != nil {
		log.Error("sub-bag metadata disagrees", "error", err)
		return nil, err
	}

	workDir := opts.WorkDir
	if workDir == "" {
		if workDir, err = os.Getwd(); err != nil {
			return nil, errors.NewInternal(err)
		}
	}
	dest, err := ResolveDestination(set.Dir, opts.Output, workDir)
	if err != nil {
		return nil, err
	}
	taken, err := exists(dest)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if taken {
		return nil, errors.NewDestinationExists(dest)
	}
	if err := os.Mkdir(dest, 0o755); err != nil {
		if stderrors.Is(err, os.ErrExist) {
			return nil, errors.NewDestinationExists(dest)
		}
		return nil, errors.NewInternal(fmt.Errorf("create %s: %w", dest, err))
	}

	for _, pkg := range pkgs {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelled("unsplit")
		}
		log.Info("copying payload", "bag", pkg.Path)
		if err := mergePayload(a.PayloadRoot(pkg), dest, opts.Merge); err != nil {
			return nil, err
		}
	}

	algorithms := accumulated.Algorithms()
	if len(algorithms) == 0 {
		algorithms = opts.Algorithms
	}
	merged, err := a.Seal(ctx, dest, common, algorithms)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("seal %s: %w", dest, err))
	}

	diff := manifest.DiffPayload(merged.Entries, accumulated)
	if !diff.Matched {
		log.Error("new manifest does not match the split manifests",
			"unexpected", diff.OnlyInA.Paths(), "mismatched", diff.Mismatched)
		return nil, errors.NewMergeInconsistency(dest, diff.OnlyInA.Paths(), diff.Mismatched)
	}
	if len(diff.OnlyInB) > 0 {
		log.Warn("split manifest entries missing from the merged bag", "paths", diff.OnlyInB.Paths())
	}
	log.Info("new manifest entries match the split manifests' entries")

	result := &MergeResult{
		MergedPath:         dest,
		MergedPackage:      merged,
		AccumulatedEntries: accumulated,
		Consistent:         true,
		SubPackages:        set.SubPackages,
		Metadata:           common,
	}

	if set.MetadataPackage != "" {
		if err := restoreMetadata(ctx, a, set.MetadataPackage, result, opts, log); err != nil {
			return nil, err
		}
	}

	log.Info("merged bag written", "path", dest)
	return result, nil
}

// restoreMetadata copies the metadata bag's payload (the original bag's tag
// files) into the merged bag's root, then reloads the merged bag.
func restoreMetadata(ctx context.Context, a Adapter, metaPath string, result *MergeResult, opts UnsplitOptions, log *slog.Logger) error {
	meta, err := a.Load(ctx, metaPath)
	if err != nil {
		return errors.NewValidationFailure([]string{metaPath}, fmt.Sprintf("cannot load metadata bag: %v", err))
	}
	if err := validate(ctx, a, meta); err != nil {
		log.Error("the metadata bag failed to validate", "bag", metaPath, "error", err)
		return errors.NewValidationFailure([]string{metaPath}, "metadata bag failed validation")
	}

	log.Info("copying metadata bag payload to merged bag", "bag", metaPath)
	// Restoring the original tag files means replacing the freshly sealed ones.
	mergeOpts := opts.Merge
	mergeOpts.Policy = mergetree.LastWriterWins
	if err := mergePayload(a.PayloadRoot(meta), result.MergedPath, mergeOpts); err != nil {
		return err
	}
	result.MetadataPackage = metaPath

	final, err := a.Load(ctx, result.MergedPath)
	if err != nil {
		return errors.NewInternal(fmt.Errorf("reload %s: %w", result.MergedPath, err))
	}
	result.MergedPackage = final
	if opts.SkipValidation {
		log.Info("skipping merged bag validation at user's request")
		return nil
	}
	if err := validate(ctx, a, final); err != nil {
		log.Error("the final merged bag failed to validate", "bag", result.MergedPath, "error", err)
		return errors.NewValidationFailure([]string{result.MergedPath}, "merged bag failed validation")
	}
	result.Validated = true
	log.Info("the final merged bag validated successfully")
	return nil
}

func mergePayload(src, dst string, opts mergetree.Options) error {
	err := mergetree.Merge(src, dst, opts)
	var mergeErr *mergetree.MergeError
	if stderrors.As(err, &mergeErr) {
		return errors.NewMergeFailed(src, mergeErr.Paths())
	}
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
