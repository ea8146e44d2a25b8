package splitset_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/bagsplit/internal/bagit"
	"github.com/hpungsan/bagsplit/internal/errors"
	"github.com/hpungsan/bagsplit/internal/mergetree"
	"github.com/hpungsan/bagsplit/internal/splitset"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func makeBag(t *testing.T, dir string, files map[string]string, info map[string][]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeFiles(t, dir, files)
	_, err := bagit.Make(context.Background(), dir, info, []string{"sha256"})
	require.NoError(t, err)
}

// fixture is an original bag, its split directory with three sub-bags and a
// metadata bag, laid out as a splitting tool would.
type fixture struct {
	original string
	splitDir string
	subs     []string
}

var payload = map[string]string{
	"a.txt":      "alpha",
	"img/b.tif":  "beta",
	"docs/c.pdf": "gamma",
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	f := fixture{
		original: filepath.Join(root, "src", "photos"),
		splitDir: filepath.Join(root, "work", "photos_split"),
	}
	org := map[string][]string{"Source-Organization": {"Example Org"}}

	makeBag(t, f.original, payload, org)
	// A tag directory that only the metadata bag carries.
	writeFiles(t, f.original, map[string]string{"docs/readme.txt": "about this bag"})

	parts := []map[string]string{
		{"a.txt": payload["a.txt"], "img/b.tif": payload["img/b.tif"]},
		{"docs/c.pdf": payload["docs/c.pdf"]},
		{},
	}
	for i, files := range parts {
		sub := filepath.Join(f.splitDir, "photos_"+string(rune('1'+i)))
		info := map[string][]string{
			"Source-Organization": {"Example Org"},
			"Bag-Count":           {string(rune('1'+i)) + " of 3"},
		}
		makeBag(t, sub, files, info)
		f.subs = append(f.subs, sub)
	}

	_, err = splitset.MakeMetadataPackage(context.Background(), bagit.NewAdapter(nil), f.original, f.splitDir, nil, mergetree.Options{})
	require.NoError(t, err)
	return f
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestVerify_IntactSplit(t *testing.T) {
	f := newFixture(t)

	report, err := splitset.Verify(context.Background(), bagit.NewAdapter(nil), f.original, f.splitDir, splitset.VerifyOptions{})
	require.NoError(t, err)
	require.True(t, report.OK)
	require.Len(t, report.SubPackages, 3)
	require.NotNil(t, report.MetadataPackage)
	require.Equal(t, "valid", report.MetadataPackage.Validity)
	require.True(t, report.Diff.Matched)
	require.Empty(t, report.MissingFromSplit)
	require.Len(t, report.AllEntries, 3)
}

func TestVerify_CorruptedSubPackageIsReportedNotFatal(t *testing.T) {
	f := newFixture(t)
	writeFiles(t, f.subs[1], map[string]string{"data/docs/c.pdf": "GAMMA"})

	report, err := splitset.Verify(context.Background(), bagit.NewAdapter(nil), f.original, f.splitDir, splitset.VerifyOptions{})
	require.NoError(t, err)
	require.False(t, report.OK)
	require.Equal(t, "invalid", report.SubPackages[1].Validity)
	require.NotEmpty(t, report.SubPackages[1].Error)
	require.Equal(t, "valid", report.SubPackages[0].Validity)

	// The other sub-bags still count toward the accumulated payload.
	require.Contains(t, report.AllEntries, "data/a.txt")
	require.Contains(t, report.AllEntries, "data/img/b.tif")
	require.NotContains(t, report.AllEntries, "data/docs/c.pdf")
	require.Equal(t, []string{"data/docs/c.pdf"}, report.MissingFromSplit)
}

func TestVerify_ExtraFileInSplit(t *testing.T) {
	f := newFixture(t)
	makeBag(t, filepath.Join(f.splitDir, "photos_4"), map[string]string{"stray.txt": "x"},
		map[string][]string{"Source-Organization": {"Example Org"}})

	report, err := splitset.Verify(context.Background(), bagit.NewAdapter(nil), f.original, f.splitDir, splitset.VerifyOptions{})
	require.NoError(t, err)
	require.False(t, report.OK)
	require.False(t, report.Diff.Matched)
	require.Contains(t, report.Diff.OnlyInA, "data/stray.txt")
}

func TestVerify_MissingOriginal(t *testing.T) {
	f := newFixture(t)
	_, err := splitset.Verify(context.Background(), bagit.NewAdapter(nil), filepath.Join(t.TempDir(), "nope"), f.splitDir, splitset.VerifyOptions{})
	require.True(t, errors.Is(err, errors.ErrInvalidDirectory), "got %v", err)
}

func TestUnsplit_RestoresOriginal(t *testing.T) {
	f := newFixture(t)

	result, err := splitset.Unsplit(context.Background(), bagit.NewAdapter(nil), f.splitDir, splitset.UnsplitOptions{})
	require.NoError(t, err)

	want := filepath.Join(filepath.Dir(f.splitDir), "photos")
	require.Equal(t, want, result.MergedPath)
	require.True(t, result.Consistent)
	require.True(t, result.Validated)
	require.Len(t, result.SubPackages, 3)
	require.NotEmpty(t, result.MetadataPackage)

	for rel, content := range payload {
		require.Equal(t, content, readFile(t, filepath.Join(want, "data", filepath.FromSlash(rel))))
	}
	// The metadata bag's payload lands at the merged bag's root.
	require.Equal(t, "about this bag", readFile(t, filepath.Join(want, "docs", "readme.txt")))
	require.Equal(t, readFile(t, filepath.Join(f.original, "bag-info.txt")), readFile(t, filepath.Join(want, "bag-info.txt")))

	b, err := bagit.Open(want)
	require.NoError(t, err)
	require.NoError(t, b.Validate(context.Background()))
}

func TestUnsplit_WithoutMetadataPackage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.RemoveAll(filepath.Join(f.splitDir, "photos__metadata")))
	out := filepath.Join(t.TempDir(), "merged")

	result, err := splitset.Unsplit(context.Background(), bagit.NewAdapter(nil), f.splitDir, splitset.UnsplitOptions{Output: out})
	require.NoError(t, err)
	require.Empty(t, result.MetadataPackage)
	require.False(t, result.Validated)
	require.Equal(t, []string{"Example Org"}, result.Metadata["Source-Organization"])
	require.NotContains(t, result.Metadata, "Bag-Count")

	b, err := bagit.Open(out)
	require.NoError(t, err)
	require.Equal(t, []string{"Example Org"}, b.Info["Source-Organization"])
	require.Equal(t, []string{"14.3"}, b.Info[bagit.FieldPayloadOxum])
	require.NoError(t, b.Validate(context.Background()))
}

func TestUnsplit_SubPackagesWithDifferentAlgorithms(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	splitDir := filepath.Join(root, "x_split")
	info := map[string][]string{"Source-Organization": {"Example Org"}}

	for name, alg := range map[string]string{"x_1": "md5", "x_2": "sha256"} {
		dir := filepath.Join(splitDir, name)
		writeFiles(t, dir, map[string]string{name + ".txt": "content of " + name})
		_, err := bagit.Make(context.Background(), dir, info, []string{alg})
		require.NoError(t, err)
	}

	out := filepath.Join(root, "merged")
	result, err := splitset.Unsplit(context.Background(), bagit.NewAdapter(nil), splitDir, splitset.UnsplitOptions{Output: out})
	require.NoError(t, err)
	require.True(t, result.Consistent)
	require.Equal(t, []string{"md5", "sha256"}, result.MergedPackage.PayloadEntries().Algorithms())

	b, err := bagit.Open(out)
	require.NoError(t, err)
	require.NoError(t, b.Validate(context.Background()))
}

func TestUnsplit_DestinationExists(t *testing.T) {
	f := newFixture(t)
	dest := filepath.Join(filepath.Dir(f.splitDir), "photos")
	require.NoError(t, os.Mkdir(dest, 0o755))

	_, err := splitset.Unsplit(context.Background(), bagit.NewAdapter(nil), f.splitDir, splitset.UnsplitOptions{})
	require.True(t, errors.Is(err, errors.ErrDestinationExists), "got %v", err)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestUnsplit_InvalidSubPackageWritesNothing(t *testing.T) {
	f := newFixture(t)
	writeFiles(t, f.subs[0], map[string]string{"data/a.txt": "tampered"})
	dest := filepath.Join(filepath.Dir(f.splitDir), "photos")

	_, err := splitset.Unsplit(context.Background(), bagit.NewAdapter(nil), f.splitDir, splitset.UnsplitOptions{})
	require.True(t, errors.Is(err, errors.ErrValidationFailure), "got %v", err)
	require.NoDirExists(t, dest)
}

func TestUnsplit_SkipValidationCatchesInconsistency(t *testing.T) {
	f := newFixture(t)
	writeFiles(t, f.subs[0], map[string]string{"data/a.txt": "tampered"})

	_, err := splitset.Unsplit(context.Background(), bagit.NewAdapter(nil), f.splitDir, splitset.UnsplitOptions{SkipValidation: true})
	require.True(t, errors.Is(err, errors.ErrMergeInconsistency), "got %v", err)
}

func TestUnsplit_MetadataMismatch(t *testing.T) {
	f := newFixture(t)
	makeBag(t, filepath.Join(f.splitDir, "photos_4"), map[string]string{"d.txt": "d"},
		map[string][]string{"Source-Organization": {"Someone Else"}})

	_, err := splitset.Unsplit(context.Background(), bagit.NewAdapter(nil), f.splitDir, splitset.UnsplitOptions{})
	require.True(t, errors.Is(err, errors.ErrMetadataMismatch), "got %v", err)
	require.NoDirExists(t, filepath.Join(filepath.Dir(f.splitDir), "photos"))
}

func TestUnsplit_AmbiguousMetadataPackage(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Mkdir(filepath.Join(f.splitDir, "other__metadata"), 0o755))

	_, err := splitset.Unsplit(context.Background(), bagit.NewAdapter(nil), f.splitDir, splitset.UnsplitOptions{})
	require.True(t, errors.Is(err, errors.ErrAmbiguousMetadataPackage), "got %v", err)
}

func TestUnsplit_NoSubPackages(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "empty_split")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "empty__metadata"), 0o755))

	_, err := splitset.Unsplit(context.Background(), bagit.NewAdapter(nil), dir, splitset.UnsplitOptions{})
	require.True(t, errors.Is(err, errors.ErrNoSubPackagesFound), "got %v", err)
}

func TestUnsplit_FailOnConflict(t *testing.T) {
	f := newFixture(t)
	makeBag(t, filepath.Join(f.splitDir, "photos_4"), map[string]string{"a.txt": "alpha"},
		map[string][]string{"Source-Organization": {"Example Org"}})

	_, err := splitset.Unsplit(context.Background(), bagit.NewAdapter(nil), f.splitDir, splitset.UnsplitOptions{
		Merge: mergetree.Options{Policy: mergetree.FailOnConflict},
	})
	require.True(t, errors.Is(err, errors.ErrMergeFailed), "got %v", err)
}

func TestUnsplit_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := splitset.Unsplit(ctx, bagit.NewAdapter(nil), f.splitDir, splitset.UnsplitOptions{})
	require.True(t, errors.Is(err, errors.ErrCancelled), "got %v", err)
}

func TestMakeMetadataPackage_Layout(t *testing.T) {
	f := newFixture(t)
	meta := filepath.Join(f.splitDir, "photos__metadata")

	b, err := bagit.Open(meta)
	require.NoError(t, err)
	require.NoError(t, b.Validate(context.Background()))
	require.FileExists(t, filepath.Join(meta, "data", "bagit.txt"))
	require.FileExists(t, filepath.Join(meta, "data", "bag-info.txt"))
	require.FileExists(t, filepath.Join(meta, "data", "manifest-sha256.txt"))
	require.FileExists(t, filepath.Join(meta, "data", "docs", "readme.txt"))
	// The original's payload is never copied.
	require.NoDirExists(t, filepath.Join(meta, "data", "data"))
}

// sealFailing is a bagit adapter whose Seal always fails.
type sealFailing struct{ *bagit.Adapter }

func (sealFailing) Seal(context.Context, string, splitset.Metadata, []string) (*splitset.Package, error) {
	return nil, os.ErrPermission
}

func TestMakeMetadataPackage_FailureLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	metaPath := filepath.Join(f.splitDir, "photos__metadata")
	require.NoError(t, os.RemoveAll(metaPath))

	_, err := splitset.MakeMetadataPackage(context.Background(), sealFailing{bagit.NewAdapter(nil)}, f.original, f.splitDir, nil, mergetree.Options{})
	require.True(t, errors.Is(err, errors.ErrInternal), "got %v", err)
	_, statErr := os.Stat(metaPath)
	require.True(t, os.IsNotExist(statErr), "partial metadata bag left at %s", metaPath)

	// A retry starts from scratch instead of reporting METADATA_PACKAGE_EXISTS.
	_, err = splitset.MakeMetadataPackage(context.Background(), bagit.NewAdapter(nil), f.original, f.splitDir, nil, mergetree.Options{})
	require.NoError(t, err)
}

func TestMakeMetadataPackage_Exists(t *testing.T) {
	f := newFixture(t)
	_, err := splitset.MakeMetadataPackage(context.Background(), bagit.NewAdapter(nil), f.original, f.splitDir, nil, mergetree.Options{})
	require.True(t, errors.Is(err, errors.ErrMetadataPackageExists), "got %v", err)
}

func TestMakeMetadataPackage_DefaultSplitDir(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	original := filepath.Join(root, "maps")
	makeBag(t, original, map[string]string{"m.txt": "m"}, nil)

	pkg, err := splitset.MakeMetadataPackage(context.Background(), bagit.NewAdapter(nil), original, "", nil, mergetree.Options{})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "maps_split", "maps__metadata"), pkg.Path)
}
