package ops

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/hpungsan/bagsplit/internal/config"
	"github.com/hpungsan/bagsplit/internal/db"
	"github.com/hpungsan/bagsplit/internal/errors"
	"github.com/hpungsan/bagsplit/internal/report"
	"github.com/hpungsan/bagsplit/internal/splitset"
)

// SplitCheckInput contains parameters for the SplitCheck operation.
type SplitCheckInput struct {
	BagPath       string // required: the original bag
	SplitDir      string // default: <bag>_split
	NoVerify      bool   // skip checksum validation
	NoMetadataBag bool   // don't create the metadata bag after a good check
	ReportPath    string // optional .md or .html report
	Logger        *slog.Logger
}

// SplitCheckOutput contains the result of the SplitCheck operation.
type SplitCheckOutput struct {
	RunID       string                   `json:"run_id"`
	OK          bool                     `json:"ok"`
	Original    splitset.PackageResult   `json:"original"`
	SplitDir    string                   `json:"split_dir"`
	SubPackages []splitset.PackageResult `json:"sub_packages"`
	// Missing are original payload paths no valid sub-bag carries.
	Missing []string `json:"missing"`
	// Extra are sub-bag payload paths absent from the original.
	Extra      []string `json:"extra"`
	Mismatched []string `json:"mismatched"`
	// MetadataPackage is the metadata bag's path when one exists after the check.
	MetadataPackage        string `json:"metadata_package,omitempty"`
	MetadataPackageCreated bool   `json:"metadata_package_created"`
	Notice                 string `json:"notice,omitempty"`
	Report                 string `json:"report,omitempty"`
}

// SplitCheck verifies that the sub-bags in the split directory together hold
// exactly the original bag's payload, then stores the original's tag files in
// a metadata bag so a later unsplit can restore them.
//
// A failed check is not an error: OK is false and the lists say why.
func SplitCheck(ctx context.Context, database *sql.DB, cfg *config.Config, input SplitCheckInput) (*SplitCheckOutput, error) {
	cfg = orDefault(cfg)
	log := loggerOrDefault(input.Logger)

	if strings.TrimSpace(input.BagPath) == "" {
		return nil, errors.NewInvalidRequest("bag_path is required")
	}
	bagPath, err := filepath.Abs(input.BagPath)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid bag path: %v", err))
	}
	splitDir := input.SplitDir
	if strings.TrimSpace(splitDir) == "" {
		splitDir = splitset.SplitDirFor(bagPath)
	}
	if splitDir, err = filepath.Abs(splitDir); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid split directory: %v", err))
	}

	r, err := startRun(db.OpSplitCheck, bagPath)
	if err != nil {
		return nil, err
	}
	out, err := splitCheck(ctx, cfg, input, bagPath, splitDir, log)
	if out != nil {
		out.RunID = r.rec.ID
		r.rec.SubPackages = len(out.SubPackages)
		r.rec.Entries = out.Original.Entries
		if !out.OK {
			r.rec.ErrorCode = string(errors.ErrValidationFailure)
			r.rec.Message = "split does not match the original bag"
		}
	}
	r.finish(database, cfg, log, out != nil && out.OK, err)
	if err != nil {
		return nil, err
	}

	if input.ReportPath != "" {
		if err := report.Write(input.ReportPath, splitCheckReport(out)); err != nil {
			return nil, errors.NewInternal(err)
		}
		out.Report = input.ReportPath
	}
	return out, nil
}

func splitCheck(ctx context.Context, cfg *config.Config, input SplitCheckInput, bagPath, splitDir string, log *slog.Logger) (*SplitCheckOutput, error) {
	adapter := newAdapter(cfg)
	verified, err := splitset.Verify(ctx, adapter, bagPath, splitDir, splitset.VerifyOptions{
		SkipValidation: input.NoVerify,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	out := &SplitCheckOutput{
		OK:          verified.OK,
		Original:    verified.Original,
		SplitDir:    splitDir,
		SubPackages: verified.SubPackages,
		Missing:     verified.MissingFromSplit,
		Extra:       verified.Diff.OnlyInA.Paths(),
		Mismatched:  verified.Diff.Mismatched,
	}
	if out.SubPackages == nil {
		out.SubPackages = []splitset.PackageResult{}
	}
	if verified.MetadataPackage != nil {
		out.MetadataPackage = verified.MetadataPackage.Path
	}

	if !out.OK || input.NoMetadataBag {
		return out, nil
	}

	opts, err := mergeOptions(cfg)
	if err != nil {
		return nil, err
	}
	pkg, err := splitset.MakeMetadataPackage(ctx, adapter, bagPath, splitDir, cfg.Algorithms, opts)
	switch {
	case errors.Is(err, errors.ErrMetadataPackageExists):
		log.Info("metadata bag already exists, leaving it alone", "path", splitset.MetadataPackagePath(bagPath, splitDir))
		out.Notice = err.Error()
		out.MetadataPackage = splitset.MetadataPackagePath(bagPath, splitDir)
	case err != nil:
		return nil, err
	default:
		log.Info("metadata bag created", "path", pkg.Path)
		out.MetadataPackage = pkg.Path
		out.MetadataPackageCreated = true
	}
	return out, nil
}

func splitCheckReport(out *SplitCheckOutput) *report.Document {
	doc := report.New("Split check: " + filepath.Base(out.Original.Path)).
		Field("Run", out.RunID).
		Field("Result", passFail(out.OK)).
		Field("Original bag", "`"+out.Original.Path+"`").
		Field("Split directory", "`"+out.SplitDir+"`").
		Field("Payload entries", out.Original.Entries)
	if out.MetadataPackage != "" {
		doc.Field("Metadata bag", "`"+out.MetadataPackage+"`")
	}
	if out.Notice != "" {
		doc.Paragraph(out.Notice)
	}

	rows := make([][]string, 0, len(out.SubPackages)+1)
	rows = append(rows, packageRow(out.Original))
	for _, p := range out.SubPackages {
		rows = append(rows, packageRow(p))
	}
	doc.Section("Bags").Table([]string{"Bag", "Kind", "Validity", "Entries", "Error"}, rows)
	doc.Section("Missing from split").List(out.Missing, "none")
	doc.Section("Not in original").List(out.Extra, "none")
	doc.Section("Checksum mismatches").List(out.Mismatched, "none")
	return doc
}

func packageRow(p splitset.PackageResult) []string {
	return []string{filepath.Base(p.Path), p.Kind, p.Validity, fmt.Sprint(p.Entries), p.Error}
}

func passFail(ok bool) string {
	if ok {
		return "passed"
	}
	return "failed"
}
