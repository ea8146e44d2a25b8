package bagit

import (
	"context"
	"path/filepath"

	"github.com/hpungsan/bagsplit/internal/splitset"
)

// Adapter exposes BagIt bags to splitset.
type Adapter struct {
	// Algorithms seal new bags when the caller names none.
	Algorithms []string
}

// NewAdapter returns an Adapter sealing with algorithms, or DefaultAlgorithms when empty.
func NewAdapter(algorithms []string) *Adapter {
	if len(algorithms) == 0 {
		algorithms = DefaultAlgorithms
	}
	return &Adapter{Algorithms: algorithms}
}

var _ splitset.Adapter = (*Adapter)(nil)

func (a *Adapter) Load(_ context.Context, path string) (*splitset.Package, error) {
	b, err := Open(path)
	if err != nil {
		return nil, err
	}
	return toPackage(b), nil
}

// Validate re-reads the bag from disk so a stale Package cannot hide changes.
func (a *Adapter) Validate(ctx context.Context, pkg *splitset.Package) error {
	b, err := Open(pkg.Path)
	if err != nil {
		return err
	}
	return b.Validate(ctx)
}

func (a *Adapter) Seal(ctx context.Context, dir string, metadata splitset.Metadata, algorithms []string) (*splitset.Package, error) {
	if len(algorithms) == 0 {
		algorithms = a.Algorithms
	}
	b, err := Make(ctx, dir, metadata, algorithms)
	if err != nil {
		return nil, err
	}
	return toPackage(b), nil
}

func (a *Adapter) PayloadRoot(pkg *splitset.Package) string {
	return filepath.Join(pkg.Path, PayloadDir)
}

func toPackage(b *Bag) *splitset.Package {
	return &splitset.Package{
		Path:     b.Path,
		Entries:  b.Entries(),
		Metadata: splitset.Metadata(b.Info).Clone(),
		Validity: splitset.ValidityUnknown,
	}
}
