package ops

import (
	"database/sql"

	"github.com/hpungsan/bagsplit/internal/db"
	"github.com/hpungsan/bagsplit/internal/errors"
)

// HistoryInput contains parameters for the History operation.
type HistoryInput struct {
	Operation string // optional: "splitcheck" or "unsplit"
	Limit     int    // default: 20, max: 100
	Offset    int    // default: 0
}

// HistoryOutput contains the result of the History operation.
type HistoryOutput struct {
	Runs       []db.Run   `json:"runs"`
	Pagination Pagination `json:"pagination"`
}

// History lists recorded runs, newest first.
func History(database *sql.DB, input HistoryInput) (*HistoryOutput, error) {
	if database == nil {
		return nil, errors.NewInvalidRequest("run history is disabled")
	}
	switch input.Operation {
	case "", db.OpSplitCheck, db.OpUnsplit:
	default:
		return nil, errors.NewInvalidRequest("operation must be one of: splitcheck, unsplit")
	}

	// Apply limit defaults and bounds
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	offset := max(input.Offset, 0)

	runs, err := db.ListRuns(database, db.RunFilter{Operation: input.Operation, Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	total, err := db.CountRuns(database, input.Operation)
	if err != nil {
		return nil, err
	}

	return &HistoryOutput{
		Runs: runs,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(runs) < total,
			Total:   total,
		},
	}, nil
}

// RunDetail returns one recorded run.
func RunDetail(database *sql.DB, id string) (*db.Run, error) {
	if database == nil {
		return nil, errors.NewInvalidRequest("run history is disabled")
	}
	if id == "" {
		return nil, errors.NewInvalidRequest("run id is required")
	}
	return db.GetRun(database, id)
}
