// Package scoring folds a batch of inspection findings into a safety score
// and the corrective-action drafts the batch implies. It is pure: no storage,
// no clock, no identifiers — the caller persists what comes out.
package scoring

import (
	"fmt"

	"sitecheck/internal/domain"
)

// Input is one submitted finding before persistence.
type Input struct {
	Type        domain.FindingType
	Severity    domain.Severity
	Description string
}

// Record is a scored finding in submission order. TaskIndex points into
// Outcome.Tasks for non-conformances and is -1 otherwise.
type Record struct {
	Seq         int
	Type        domain.FindingType
	Severity    domain.Severity
	Description string
	Deduction   int
	TaskIndex   int
}

// TaskDraft is a corrective action to be created for a non-conformance.
// FindingIndex identifies the record the persisted task must be linked from.
type TaskDraft struct {
	FindingIndex int
	Priority     string
}

// Outcome is the result of evaluating a finding batch.
type Outcome struct {
	Score    int
	Findings []Record
	Tasks    []TaskDraft
}

const (
	initialScore = 100

	deductionHigh    = 20
	deductionMedium  = 10
	deductionDefault = 5
)

// Deduction returns the score penalty for a single finding. Good practices
// cost nothing; everything else is tiered by severity with a default of 5.
func Deduction(t domain.FindingType, sev domain.Severity) int {
	if t == domain.FindingGoodPractice {
		return 0
	}
	switch sev {
	case domain.SeverityHigh:
		return deductionHigh
	case domain.SeverityMedium:
		return deductionMedium
	default:
		return deductionDefault
	}
}

// TaskPriority maps a non-conformance severity to a task priority. Only high
// severity escalates; medium and low both produce a medium-priority task.
func TaskPriority(sev domain.Severity) string {
	if sev == domain.SeverityHigh {
		return domain.TaskPriorityHigh
	}
	return domain.TaskPriorityMedium
}

// Evaluate scores the findings in input order. The score starts at 100, each
// finding subtracts its deduction, and only the final result is floored at
// zero. Every non-conformance yields exactly one task draft. An unrecognized
// finding type is scored as a plain observation and yields no task, but the
// record keeps the type as submitted.
//
// Evaluate fails only on a missing or unknown severity; an empty batch is
// valid and scores 100.
func Evaluate(inputs []Input) (Outcome, error) {
	out := Outcome{Score: initialScore, Findings: make([]Record, 0, len(inputs))}
	for i, in := range inputs {
		if !in.Severity.Valid() {
			return Outcome{}, fmt.Errorf("finding %d: invalid severity %q", i, in.Severity)
		}
		effective := in.Type
		switch effective {
		case domain.FindingNonConformance, domain.FindingGoodPractice, domain.FindingObservation:
		default:
			effective = domain.FindingObservation
		}
		d := Deduction(effective, in.Severity)
		out.Score -= d
		rec := Record{
			Seq:         i,
			Type:        in.Type,
			Severity:    in.Severity,
			Description: in.Description,
			Deduction:   d,
			TaskIndex:   -1,
		}
		if effective == domain.FindingNonConformance {
			rec.TaskIndex = len(out.Tasks)
			out.Tasks = append(out.Tasks, TaskDraft{FindingIndex: i, Priority: TaskPriority(in.Severity)})
		}
		out.Findings = append(out.Findings, rec)
	}
	if out.Score < 0 {
		out.Score = 0
	}
	return out, nil
}
