package app

import (
	"strings"

	"docvault/internal/indexer"
)

// Operation tracks the CLI command being run. Commands that change the
// index persist it to index_runs, which gives it an ID; read-only commands
// keep it in memory only.
type Operation struct {
	ID         int64
	Name       string
	Parameters string
	Status     string
	Indexed    int
	Failed     int
}

// NewOperation creates an in-memory operation. The parameters are joined
// into one string for the history.
func NewOperation(name string, params ...string) *Operation {
	return &Operation{
		Name:       name,
		Parameters: strings.Join(params, " "),
		Status:     "success",
	}
}

// Persisted returns true if this operation has been saved to the index.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = "failed"
}

// RecordReport copies the outcome of a reindex run.
func (op *Operation) RecordReport(rep *indexer.Report, err error) {
	if rep == nil {
		op.Fail()
		return
	}
	op.Status = rep.Status(err)
	op.Indexed = rep.Indexed()
	op.Failed = rep.Failed
}
