package importer

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is the final state of one row.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// OutcomeRecord is the result of one row. Row keeps the raw values of
// skipped and failed rows so they can be shown again and corrected.
type OutcomeRecord struct {
	Ordinal  int      `json:"ordinal"`
	Line     int      `json:"line"`
	Status   Outcome  `json:"status"`
	TicketID int64    `json:"ticket_id,omitempty"`
	Messages []string `json:"messages,omitempty"`
	Row      []string `json:"row,omitempty"`
}

// Result summarizes a commit.
type Result struct {
	Handle        uuid.UUID       `json:"handle"`
	Created       int             `json:"created"`
	Updated       int             `json:"updated"`
	Skipped       int             `json:"skipped"`
	Failed        int             `json:"failed"`
	Aborted       bool            `json:"aborted"`
	AbortReason   string          `json:"abort_reason,omitempty"`
	Headers       []string        `json:"headers"`
	Outcomes      []OutcomeRecord `json:"outcomes"`
	ProjectCounts map[string]int  `json:"project_counts"`
	Duration      time.Duration   `json:"duration_ns"`
}

// Processed is the number of rows that received an outcome.
func (r *Result) Processed() int {
	return r.Created + r.Updated + r.Skipped + r.Failed
}

// FailedRows returns the failed rows in input order.
func (r *Result) FailedRows() []OutcomeRecord {
	var out []OutcomeRecord
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			out = append(out, o)
		}
	}
	return out
}

// Aggregator accumulates row outcomes into a Result.
type Aggregator struct {
	res   *Result
	start time.Time
}

// NewAggregator starts a result for the batch with the given headers.
func NewAggregator(handle uuid.UUID, headers []string) *Aggregator {
	return &Aggregator{
		res: &Result{
			Handle:        handle,
			Headers:       headers,
			ProjectCounts: make(map[string]int),
		},
		start: time.Now(),
	}
}

// Record adds one outcome. project names the project a created or updated
// ticket belongs to and is ignored for other outcomes.
func (a *Aggregator) Record(rec OutcomeRecord, project string) {
	switch rec.Status {
	case OutcomeCreated:
		a.res.Created++
		a.res.ProjectCounts[project]++
		rec.Row = nil
	case OutcomeUpdated:
		a.res.Updated++
		a.res.ProjectCounts[project]++
		rec.Row = nil
	case OutcomeSkipped:
		a.res.Skipped++
	case OutcomeFailed:
		a.res.Failed++
	}
	a.res.Outcomes = append(a.res.Outcomes, rec)
}

// Abort marks the batch as stopped before its last row.
func (a *Aggregator) Abort(reason string) {
	a.res.Aborted = true
	a.res.AbortReason = reason
}

// Result finalizes and returns the accumulated result.
func (a *Aggregator) Result() *Result {
	a.res.Duration = time.Since(a.start)
	return a.res
}
