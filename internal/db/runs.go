package db

import (
	"database/sql"
	stderrors "errors"

	"github.com/hpungsan/bagsplit/internal/errors"
)

// Operation names recorded in the ledger.
const (
	OpSplitCheck = "splitcheck"
	OpUnsplit    = "unsplit"
)

// Run is one recorded splitcheck or unsplit invocation.
type Run struct {
	ID          string `json:"id"`
	Operation   string `json:"operation"`
	Target      string `json:"target"`
	Destination string `json:"destination,omitempty"`
	OK          bool   `json:"ok"`
	ErrorCode   string `json:"error_code,omitempty"`
	Message     string `json:"message,omitempty"`
	SubPackages int    `json:"sub_packages"`
	Entries     int    `json:"entries"`
	StartedAt   int64  `json:"started_at"`
	FinishedAt  int64  `json:"finished_at"`
}

// RunFilter narrows ListRuns. An empty Operation matches all runs.
type RunFilter struct {
	Operation string
	Limit     int
	Offset    int
}

// InsertRun stores a finished run.
func InsertRun(db *sql.DB, r *Run) error {
	query := `
		INSERT INTO runs (
			id, operation, target, destination, ok, error_code, message,
			sub_packages, entries, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.Exec(query,
		r.ID, r.Operation, r.Target, toNullString(r.Destination), r.OK,
		toNullString(r.ErrorCode), toNullString(r.Message),
		r.SubPackages, r.Entries, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

const runColumns = `id, operation, target, destination, ok, error_code, message,
	sub_packages, entries, started_at, finished_at`

// GetRun returns the run with the given ID, or NOT_FOUND.
func GetRun(db *sql.DB, id string) (*Run, error) {
	row := db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("run", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var destination, errorCode, message sql.NullString
	if err := s.Scan(
		&r.ID, &r.Operation, &r.Target, &destination, &r.OK, &errorCode, &message,
		&r.SubPackages, &r.Entries, &r.StartedAt, &r.FinishedAt,
	); err != nil {
		return nil, err
	}
	r.Destination = destination.String
	r.ErrorCode = errorCode.String
	r.Message = message.String
	return &r, nil
}

// ListRuns returns runs newest first.
func ListRuns(db *sql.DB, f RunFilter) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	var args []any
	if f.Operation != "" {
		query += " WHERE operation = ?"
		args = append(args, f.Operation)
	}
	// ULIDs sort by creation time, breaking started_at ties.
	query += " ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return runs, nil
}

// CountRuns returns how many runs of operation exist; empty counts all.
func CountRuns(db *sql.DB, operation string) (int, error) {
	query := "SELECT COUNT(*) FROM runs"
	var args []any
	if operation != "" {
		query += " WHERE operation = ?"
		args = append(args, operation)
	}
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
