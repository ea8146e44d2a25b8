// Package ops wires the split-set engine to configuration, the run ledger
// and reports. Each operation takes an Input struct and returns an Output
// struct ready for JSON encoding.
package ops

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/bagsplit/internal/bagit"
	"github.com/hpungsan/bagsplit/internal/config"
	"github.com/hpungsan/bagsplit/internal/db"
	"github.com/hpungsan/bagsplit/internal/errors"
	"github.com/hpungsan/bagsplit/internal/mergetree"
)

// Pagination limits
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// generateULID generates a new ULID. The shared monotonic entropy keeps IDs
// created within one millisecond in creation order.
func generateULID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulid.DefaultEntropy())
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func newAdapter(cfg *config.Config) *bagit.Adapter {
	return bagit.NewAdapter(cfg.Algorithms)
}

// mergeOptions translates the tree-merge settings of cfg.
func mergeOptions(cfg *config.Config) (mergetree.Options, error) {
	policy, err := mergetree.ParsePolicy(cfg.OverwritePolicy)
	if err != nil {
		return mergetree.Options{}, errors.NewInvalidRequest(err.Error())
	}
	return mergetree.Options{Symlinks: cfg.PreserveSymlinks, Policy: policy}, nil
}

func orDefault(cfg *config.Config) *config.Config {
	if cfg == nil {
		return config.DefaultConfig()
	}
	return cfg
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

// run tracks one ledger entry from start to finish.
type run struct {
	rec db.Run
}

func startRun(operation, target string) (*run, error) {
	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &run{rec: db.Run{
		ID:        id,
		Operation: operation,
		Target:    target,
		StartedAt: time.Now().Unix(),
	}}, nil
}

// finish records the outcome of r. Ledger failures are logged and swallowed:
// the bag operation already happened and its result must still be reported.
func (r *run) finish(database *sql.DB, cfg *config.Config, log *slog.Logger, ok bool, opErr error) {
	r.rec.FinishedAt = time.Now().Unix()
	r.rec.OK = ok && opErr == nil
	if opErr != nil {
		r.rec.ErrorCode = string(errors.ErrInternal)
		if bagErr, isBagErr := errors.As(opErr); isBagErr {
			r.rec.ErrorCode = string(bagErr.Code)
		}
		r.rec.Message = opErr.Error()
	}
	if database == nil || cfg.HistoryDisabled {
		return
	}
	if err := db.InsertRun(database, &r.rec); err != nil {
		log.Warn("failed to record run", "run", r.rec.ID, "error", err)
	}
}
