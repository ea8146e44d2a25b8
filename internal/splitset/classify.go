package splitset

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hpungsan/bagsplit/internal/errors"
)

// Directory naming conventions shared with the tools that split bags.
const (
	// SplitSuffix ends the name of the directory holding an original bag's sub-bags.
	SplitSuffix = "_split"
	// MetadataSuffix ends the name of the metadata bag inside that directory.
	MetadataSuffix = "__metadata"
	// MergedSuffix is appended to a sub-bags directory lacking SplitSuffix to
	// name the default merge destination.
	MergedSuffix = "_merged"
)

// Kind tags a directory found among the sub-bags.
type Kind int

const (
	KindSubPackage Kind = iota
	KindMetadataPackage
)

func (k Kind) String() string {
	if k == KindMetadataPackage {
		return "metadata"
	}
	return "sub-package"
}

// ClassifyName decides a directory's Kind from its base name alone.
func ClassifyName(name string) Kind {
	if strings.HasSuffix(name, MetadataSuffix) {
		return KindMetadataPackage
	}
	return KindSubPackage
}

// SplitSet is the classified content of a sub-bags directory.
type SplitSet struct {
	Dir string
	// SubPackages are absolute sub-bag paths, sorted.
	SubPackages []string
	// MetadataPackage is the metadata bag's path, or empty.
	MetadataPackage string
}

// Discover lists the immediate subdirectories of dir and classifies them.
// More than one metadata bag is an error rather than a guess.
func Discover(dir string) (*SplitSet, error) {
	abs, err := requireDir("sub-packages", dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("read %s: %w", abs, err))
	}

	set := &SplitSet{Dir: abs}
	var metadata []string
	for _, de := range entries {
		path := filepath.Join(abs, de.Name())
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			continue
		}
		switch ClassifyName(de.Name()) {
		case KindMetadataPackage:
			metadata = append(metadata, path)
		default:
			set.SubPackages = append(set.SubPackages, path)
		}
	}
	slices.Sort(set.SubPackages)

	switch len(metadata) {
	case 0:
	case 1:
		set.MetadataPackage = metadata[0]
	default:
		slices.Sort(metadata)
		return nil, errors.NewAmbiguousMetadataPackage(metadata)
	}
	return set, nil
}

// SplitDirFor returns the conventional sub-bags directory of a bag.
func SplitDirFor(bagDir string) string {
	return filepath.Clean(bagDir) + SplitSuffix
}

// MetadataPackagePath returns where the metadata bag of bagDir lives inside splitDir.
func MetadataPackagePath(bagDir, splitDir string) string {
	return filepath.Join(splitDir, filepath.Base(filepath.Clean(bagDir))+MetadataSuffix)
}

// DefaultDestinationName derives the merged bag's name from the sub-bags
// directory name: "x_split" → "x", anything else → "<name>_merged".
func DefaultDestinationName(splitDirName string) string {
	if base, ok := strings.CutSuffix(splitDirName, SplitSuffix); ok && base != "" {
		return base
	}
	return splitDirName + MergedSuffix
}

// ResolveDestination picks the absolute, symlink-free merge destination.
// An explicit output is resolved against workDir; otherwise the destination
// sits next to splitDir under DefaultDestinationName.
func ResolveDestination(splitDir, output, workDir string) (string, error) {
	var dest string
	if output != "" {
		if filepath.IsAbs(output) {
			dest = output
		} else {
			dest = filepath.Join(workDir, output)
		}
	} else {
		clean := filepath.Clean(splitDir)
		dest = filepath.Join(filepath.Dir(clean), DefaultDestinationName(filepath.Base(clean)))
	}
	dest, err := filepath.Abs(dest)
	if err != nil {
		return "", errors.NewInvalidRequest(fmt.Sprintf("invalid destination %q: %v", dest, err))
	}

	parent, err := filepath.EvalSymlinks(filepath.Dir(dest))
	if err != nil {
		return "", errors.NewInvalidDirectory("destination parent", filepath.Dir(dest))
	}
	return filepath.Join(parent, filepath.Base(dest)), nil
}

// requireDir returns the absolute form of path, failing with INVALID_DIRECTORY
// when it is missing or not a directory.
func requireDir(role, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewInvalidDirectory(role, path)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", errors.NewInvalidDirectory(role, abs)
	}
	return abs, nil
}

// exists reports whether anything (file, dir or dangling link) is at path.
func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if stderrors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
