package splitset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/bagsplit/internal/errors"
	"github.com/hpungsan/bagsplit/internal/mergetree"
)

// MakeMetadataPackage stores everything in bagDir except its payload in a
// new bag named "<bag>__metadata" inside splitDir (default "<bag>_split",
// created if missing), so the original's tag files survive an unsplit.
//
// An existing metadata bag is never regenerated: the call fails with
// METADATA_PACKAGE_EXISTS and leaves it alone.
func MakeMetadataPackage(ctx context.Context, a Adapter, bagDir, splitDir string, algorithms []string, opts mergetree.Options) (pkg *Package, err error) {
	bagAbs, err := requireDir("original bag", bagDir)
	if err != nil {
		return nil, err
	}
	original, err := a.Load(ctx, bagAbs)
	if err != nil {
		return nil, errors.NewValidationFailure([]string{bagAbs}, fmt.Sprintf("cannot load original bag: %v", err))
	}
	if splitDir == "" {
		splitDir = SplitDirFor(bagAbs)
	}
	if err := os.MkdirAll(splitDir, 0o755); err != nil {
		return nil, errors.NewInvalidDirectory("sub-packages", splitDir)
	}

	metaPath := MetadataPackagePath(bagAbs, splitDir)
	taken, err := exists(metaPath)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if taken {
		return nil, errors.NewMetadataPackageExists(metaPath)
	}
	if err := os.Mkdir(metaPath, 0o755); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("create %s: %w", metaPath, err))
	}
	// Remove the half-built bag on failure.
	defer func() {
		if err != nil {
			_ = os.RemoveAll(metaPath)
		}
	}()

	payload := filepath.Clean(a.PayloadRoot(original))
	opts.Skip = func(path string) bool { return path == payload }
	if err := mergePayload(bagAbs, metaPath, opts); err != nil {
		return nil, err
	}

	pkg, err = a.Seal(ctx, metaPath, Metadata{}, algorithms)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("seal %s: %w", metaPath, err))
	}
	return pkg, nil
}
