package ops

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/bagsplit/internal/bagit"
	"github.com/hpungsan/bagsplit/internal/config"
	"github.com/hpungsan/bagsplit/internal/db"
	"github.com/hpungsan/bagsplit/internal/errors"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func makeBag(t *testing.T, dir string, files map[string]string, info map[string][]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	require.NoError(t, os.MkdirAll(dir, 0o755))
	_, err := bagit.Make(context.Background(), dir, info, nil)
	require.NoError(t, err)
}

// newSplit lays out root/photos and root/photos_split with two sub-bags.
func newSplit(t *testing.T) (root, original, splitDir string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	original = filepath.Join(root, "src", "photos")
	splitDir = filepath.Join(root, "src", "photos_split")
	org := map[string][]string{"Source-Organization": {"Example Org"}}

	makeBag(t, original, map[string]string{"a.txt": "alpha", "b/c.txt": "gamma"}, org)
	makeBag(t, filepath.Join(splitDir, "photos_1"), map[string]string{"a.txt": "alpha"}, org)
	makeBag(t, filepath.Join(splitDir, "photos_2"), map[string]string{"b/c.txt": "gamma"}, org)
	return root, original, splitDir
}

// TestSplitWorkflow exercises check → metadata bag → unsplit → history.
func TestSplitWorkflow(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)
	cfg := config.DefaultConfig()
	root, original, splitDir := newSplit(t)

	// 1. Check the split; the metadata bag is created
	check, err := SplitCheck(ctx, database, cfg, SplitCheckInput{BagPath: original})
	require.NoError(t, err)
	require.True(t, check.OK)
	require.NotEmpty(t, check.RunID)
	require.Equal(t, splitDir, check.SplitDir)
	require.Len(t, check.SubPackages, 2)
	require.Empty(t, check.Missing)
	require.Empty(t, check.Extra)
	require.True(t, check.MetadataPackageCreated)
	require.Equal(t, filepath.Join(splitDir, "photos__metadata"), check.MetadataPackage)

	// 2. A second check leaves the metadata bag alone
	again, err := SplitCheck(ctx, database, cfg, SplitCheckInput{BagPath: original})
	require.NoError(t, err)
	require.True(t, again.OK)
	require.False(t, again.MetadataPackageCreated)
	require.Contains(t, again.Notice, "METADATA_PACKAGE_EXISTS")

	// 3. Unsplit into an explicit destination
	out := filepath.Join(root, "restored")
	merged, err := Unsplit(ctx, database, cfg, UnsplitInput{SplitDir: splitDir, OutputDir: out})
	require.NoError(t, err)
	require.Equal(t, out, merged.Path)
	require.True(t, merged.MetadataMerged)
	require.True(t, merged.Validated)
	require.Equal(t, 2, merged.Entries)
	require.Equal(t, []string{"sha256"}, merged.Algorithms)

	origInfo, err := os.ReadFile(filepath.Join(original, "bag-info.txt"))
	require.NoError(t, err)
	mergedInfo, err := os.ReadFile(filepath.Join(out, "bag-info.txt"))
	require.NoError(t, err)
	require.Equal(t, string(origInfo), string(mergedInfo))

	// 4. History, newest first
	hist, err := History(database, HistoryInput{})
	require.NoError(t, err)
	require.Len(t, hist.Runs, 3)
	require.Equal(t, 3, hist.Pagination.Total)
	require.Equal(t, merged.RunID, hist.Runs[0].ID)
	require.Equal(t, db.OpUnsplit, hist.Runs[0].Operation)
	require.Equal(t, out, hist.Runs[0].Destination)
	require.True(t, hist.Runs[0].OK)

	checks, err := History(database, HistoryInput{Operation: db.OpSplitCheck, Limit: 1})
	require.NoError(t, err)
	require.Len(t, checks.Runs, 1)
	require.True(t, checks.Pagination.HasMore)
}

func TestSplitCheck_FailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)
	_, original, splitDir := newSplit(t)
	require.NoError(t, os.WriteFile(filepath.Join(splitDir, "photos_2", "data", "b", "c.txt"), []byte("GAMMA"), 0o644))

	check, err := SplitCheck(ctx, database, config.DefaultConfig(), SplitCheckInput{BagPath: original})
	require.NoError(t, err)
	require.False(t, check.OK)
	require.Equal(t, []string{"data/b/c.txt"}, check.Missing)
	require.Empty(t, check.MetadataPackage)
	require.NoDirExists(t, filepath.Join(splitDir, "photos__metadata"))

	hist, err := History(database, HistoryInput{})
	require.NoError(t, err)
	require.Len(t, hist.Runs, 1)
	require.False(t, hist.Runs[0].OK)
	require.Equal(t, string(errors.ErrValidationFailure), hist.Runs[0].ErrorCode)
}

func TestSplitCheck_NoMetadataBag(t *testing.T) {
	_, original, splitDir := newSplit(t)

	check, err := SplitCheck(context.Background(), nil, nil, SplitCheckInput{BagPath: original, NoMetadataBag: true})
	require.NoError(t, err)
	require.True(t, check.OK)
	require.Empty(t, check.MetadataPackage)
	require.NoDirExists(t, filepath.Join(splitDir, "photos__metadata"))
}

func TestSplitCheck_RequiresBagPath(t *testing.T) {
	_, err := SplitCheck(context.Background(), nil, nil, SplitCheckInput{})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
}

func TestSplitCheck_Report(t *testing.T) {
	_, original, _ := newSplit(t)
	reportPath := filepath.Join(t.TempDir(), "check.html")

	check, err := SplitCheck(context.Background(), nil, nil, SplitCheckInput{BagPath: original, ReportPath: reportPath})
	require.NoError(t, err)
	require.Equal(t, reportPath, check.Report)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "<h1>Split check: photos</h1>")
	require.Contains(t, string(data), "photos_1")
}

func TestUnsplit_ErrorIsRecorded(t *testing.T) {
	ctx := context.Background()
	database := testDB(t)
	root, _, splitDir := newSplit(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "exists"), 0o755))

	_, err := Unsplit(ctx, database, nil, UnsplitInput{SplitDir: splitDir, OutputDir: filepath.Join(root, "exists")})
	require.True(t, errors.Is(err, errors.ErrDestinationExists), "got %v", err)

	hist, err := History(database, HistoryInput{Operation: db.OpUnsplit})
	require.NoError(t, err)
	require.Len(t, hist.Runs, 1)
	require.Equal(t, string(errors.ErrDestinationExists), hist.Runs[0].ErrorCode)
	require.Equal(t, splitDir, hist.Runs[0].Target)
}

func TestUnsplit_HistoryDisabled(t *testing.T) {
	database := testDB(t)
	root, _, splitDir := newSplit(t)
	cfg := config.DefaultConfig()
	cfg.HistoryDisabled = true

	_, err := Unsplit(context.Background(), database, cfg, UnsplitInput{SplitDir: splitDir, OutputDir: filepath.Join(root, "out")})
	require.NoError(t, err)

	n, err := db.CountRuns(database, "")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestUnsplit_ConfigDrivesMerge(t *testing.T) {
	root, _, splitDir := newSplit(t)
	makeBag(t, filepath.Join(splitDir, "photos_3"), map[string]string{"a.txt": "alpha"},
		map[string][]string{"Source-Organization": {"Example Org"}})

	cfg := config.DefaultConfig()
	cfg.OverwritePolicy = config.PolicyFailOnConflict
	_, err := Unsplit(context.Background(), nil, cfg, UnsplitInput{SplitDir: splitDir, OutputDir: filepath.Join(root, "strict")})
	require.True(t, errors.Is(err, errors.ErrMergeFailed), "got %v", err)

	cfg.OverwritePolicy = "sideways"
	_, err = Unsplit(context.Background(), nil, cfg, UnsplitInput{SplitDir: splitDir, OutputDir: filepath.Join(root, "bogus")})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)

	cfg.OverwritePolicy = config.PolicyLastWriterWins
	merged, err := Unsplit(context.Background(), nil, cfg, UnsplitInput{SplitDir: splitDir, OutputDir: filepath.Join(root, "lenient")})
	require.NoError(t, err)
	require.Len(t, merged.SubPackages, 3)
}

func TestUnsplit_ExtraVolatileFields(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	splitDir := filepath.Join(root, "maps_split")
	makeBag(t, filepath.Join(splitDir, "maps_1"), map[string]string{"x": "1"}, map[string][]string{"Disk-Label": {"A"}})
	makeBag(t, filepath.Join(splitDir, "maps_2"), map[string]string{"y": "2"}, map[string][]string{"Disk-Label": {"B"}})

	_, err = Unsplit(context.Background(), nil, nil, UnsplitInput{SplitDir: splitDir})
	require.True(t, errors.Is(err, errors.ErrMetadataMismatch), "got %v", err)

	cfg := config.DefaultConfig()
	cfg.ExtraVolatileFields = []string{"Disk-Label"}
	merged, err := Unsplit(context.Background(), nil, cfg, UnsplitInput{SplitDir: splitDir, ReportPath: filepath.Join(root, "unsplit.md")})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "maps"), merged.Path)
	require.False(t, merged.MetadataMerged)

	md, err := os.ReadFile(filepath.Join(root, "unsplit.md"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(md), "# Unsplit: maps"))
}

func TestHistory_Validation(t *testing.T) {
	_, err := History(nil, HistoryInput{})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = History(testDB(t), HistoryInput{Operation: "delete"})
	require.True(t, errors.Is(err, errors.ErrInvalidRequest))

	out, err := History(testDB(t), HistoryInput{Limit: 1000})
	require.NoError(t, err)
	require.Equal(t, MaxHistoryLimit, out.Pagination.Limit)
	require.NotNil(t, out.Runs)
}
