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

// UnsplitInput contains parameters for the Unsplit operation.
type UnsplitInput struct {
	SplitDir   string // required: directory of sub-bags
	OutputDir  string // default: derived from SplitDir's name, next to it
	WorkDir    string // resolves a relative OutputDir; default: process cwd
	NoVerify   bool   // skip checksum validation of sub-bags and the result
	ReportPath string // optional .md or .html report
	Logger     *slog.Logger
}

// UnsplitOutput contains the result of the Unsplit operation.
type UnsplitOutput struct {
	RunID           string   `json:"run_id"`
	Path            string   `json:"path"`
	SubPackages     []string `json:"sub_packages"`
	MetadataPackage string   `json:"metadata_package,omitempty"`
	MetadataMerged  bool     `json:"metadata_merged"`
	Entries         int      `json:"entries"`
	Algorithms      []string `json:"algorithms"`
	Validated       bool     `json:"validated"`
	Report          string   `json:"report,omitempty"`
}

// Unsplit merges the sub-bags of a split directory into one new bag.
func Unsplit(ctx context.Context, database *sql.DB, cfg *config.Config, input UnsplitInput) (*UnsplitOutput, error) {
	cfg = orDefault(cfg)
	log := loggerOrDefault(input.Logger)

	if strings.TrimSpace(input.SplitDir) == "" {
		return nil, errors.NewInvalidRequest("split_dir is required")
	}
	splitDir, err := filepath.Abs(input.SplitDir)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid split directory: %v", err))
	}
	opts, err := mergeOptions(cfg)
	if err != nil {
		return nil, err
	}

	r, err := startRun(db.OpUnsplit, splitDir)
	if err != nil {
		return nil, err
	}
	result, err := splitset.Unsplit(ctx, newAdapter(cfg), splitDir, splitset.UnsplitOptions{
		Output:              input.OutputDir,
		WorkDir:             input.WorkDir,
		SkipValidation:      input.NoVerify,
		ExtraVolatileFields: cfg.ExtraVolatileFields,
		Merge:               opts,
		Algorithms:          cfg.Algorithms,
		Logger:              log,
	})
	if result != nil {
		r.rec.Destination = result.MergedPath
		r.rec.SubPackages = len(result.SubPackages)
		r.rec.Entries = len(result.AccumulatedEntries)
	}
	r.finish(database, cfg, log, err == nil, err)
	if err != nil {
		return nil, err
	}

	out := &UnsplitOutput{
		RunID:           r.rec.ID,
		Path:            result.MergedPath,
		SubPackages:     result.SubPackages,
		MetadataPackage: result.MetadataPackage,
		MetadataMerged:  result.MetadataPackage != "",
		Entries:         len(result.AccumulatedEntries),
		Algorithms:      result.MergedPackage.PayloadEntries().Algorithms(),
		Validated:       result.Validated,
	}

	if input.ReportPath != "" {
		if err := report.Write(input.ReportPath, unsplitReport(out)); err != nil {
			return nil, errors.NewInternal(err)
		}
		out.Report = input.ReportPath
	}
	return out, nil
}

func unsplitReport(out *UnsplitOutput) *report.Document {
	doc := report.New("Unsplit: " + filepath.Base(out.Path)).
		Field("Run", out.RunID).
		Field("Merged bag", "`"+out.Path+"`").
		Field("Payload entries", out.Entries).
		Field("Algorithms", strings.Join(out.Algorithms, ", ")).
		Field("Validated", out.Validated)
	if out.MetadataMerged {
		doc.Field("Metadata bag", "`"+out.MetadataPackage+"`")
	} else {
		doc.Paragraph("No metadata bag was found; the merged bag carries freshly generated tag files.")
	}
	doc.Section("Sub-bags").List(out.SubPackages, "none")
	return doc
}
