package scoring_test

import (
	"testing"

	"sitecheck/internal/domain"
	"sitecheck/internal/engine/scoring"
)

func TestEmptyBatchScoresFull(t *testing.T) {
	out, err := scoring.Evaluate(nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Score != 100 {
		t.Fatalf("score = %d, want 100", out.Score)
	}
	if len(out.Findings) != 0 || len(out.Tasks) != 0 {
		t.Fatalf("expected no findings/tasks, got %d/%d", len(out.Findings), len(out.Tasks))
	}
}

func TestGoodPracticesCostNothing(t *testing.T) {
	out, err := scoring.Evaluate([]scoring.Input{
		{Type: domain.FindingGoodPractice, Severity: domain.SeverityHigh},
		{Type: domain.FindingGoodPractice, Severity: domain.SeverityLow},
		{Type: domain.FindingGoodPractice, Severity: domain.SeverityMedium},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Score != 100 {
		t.Fatalf("score = %d, want 100", out.Score)
	}
	if len(out.Tasks) != 0 {
		t.Fatalf("good practices must not spawn tasks, got %d", len(out.Tasks))
	}
}

func TestSeverityTiers(t *testing.T) {
	cases := []struct {
		sev  domain.Severity
		want int
	}{
		{domain.SeverityHigh, 20},
		{domain.SeverityMedium, 10},
		{domain.SeverityLow, 5},
	}
	for _, c := range cases {
		out, err := scoring.Evaluate([]scoring.Input{{Type: domain.FindingObservation, Severity: c.sev}})
		if err != nil {
			t.Fatalf("%s: %v", c.sev, err)
		}
		if got := 100 - out.Score; got != c.want {
			t.Fatalf("%s: deduction = %d, want %d", c.sev, got, c.want)
		}
	}
}

func TestMixedBatchExample(t *testing.T) {
	out, err := scoring.Evaluate([]scoring.Input{
		{Type: domain.FindingNonConformance, Severity: domain.SeverityHigh, Description: "blocked exit"},
		{Type: domain.FindingNonConformance, Severity: domain.SeverityMedium, Description: "missing signage"},
		{Type: domain.FindingGoodPractice, Severity: domain.SeverityLow, Description: "tidy racks"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Score != 70 {
		t.Fatalf("score = %d, want 70", out.Score)
	}
	if len(out.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(out.Tasks))
	}
	if out.Tasks[0].Priority != domain.TaskPriorityHigh || out.Tasks[1].Priority != domain.TaskPriorityMedium {
		t.Fatalf("priorities = [%s %s], want [high medium]", out.Tasks[0].Priority, out.Tasks[1].Priority)
	}
	if out.Tasks[0].FindingIndex != 0 || out.Tasks[1].FindingIndex != 1 {
		t.Fatalf("task finding links wrong: %+v", out.Tasks)
	}
}

func TestLowSeverityNCCollapsesToMediumPriority(t *testing.T) {
	out, err := scoring.Evaluate([]scoring.Input{
		{Type: domain.FindingNonConformance, Severity: domain.SeverityLow},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(out.Tasks) != 1 || out.Tasks[0].Priority != domain.TaskPriorityMedium {
		t.Fatalf("low NC should yield one medium-priority task, got %+v", out.Tasks)
	}
}

func TestScoreFlooredAtZero(t *testing.T) {
	var inputs []scoring.Input
	for i := 0; i < 6; i++ {
		inputs = append(inputs, scoring.Input{Type: domain.FindingNonConformance, Severity: domain.SeverityHigh})
	}
	out, err := scoring.Evaluate(inputs)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Score != 0 {
		t.Fatalf("score = %d, want 0", out.Score)
	}
	if len(out.Tasks) != 6 {
		t.Fatalf("tasks = %d, want 6", len(out.Tasks))
	}
}

func TestUnknownTypeScoredAsObservation(t *testing.T) {
	out, err := scoring.Evaluate([]scoring.Input{
		{Type: "near_miss", Severity: domain.SeverityMedium},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.Score != 90 {
		t.Fatalf("score = %d, want 90", out.Score)
	}
	if len(out.Tasks) != 0 {
		t.Fatalf("unknown type must not spawn tasks")
	}
	if out.Findings[0].Type != "near_miss" {
		t.Fatalf("type = %s, want near_miss kept as submitted", out.Findings[0].Type)
	}
	if out.Findings[0].Deduction != 10 {
		t.Fatalf("deduction = %d, want observation tier 10", out.Findings[0].Deduction)
	}
}

func TestInvalidSeverityRejected(t *testing.T) {
	for _, sev := range []domain.Severity{"", "critical", "HIGH"} {
		if _, err := scoring.Evaluate([]scoring.Input{{Type: domain.FindingObservation, Severity: sev}}); err == nil {
			t.Fatalf("severity %q should be rejected", sev)
		}
	}
}

func TestOrderPreserved(t *testing.T) {
	inputs := []scoring.Input{
		{Type: domain.FindingObservation, Severity: domain.SeverityLow, Description: "first"},
		{Type: domain.FindingNonConformance, Severity: domain.SeverityHigh, Description: "second"},
		{Type: domain.FindingGoodPractice, Severity: domain.SeverityLow, Description: "third"},
	}
	out, err := scoring.Evaluate(inputs)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for i, rec := range out.Findings {
		if rec.Seq != i {
			t.Fatalf("finding %d has seq %d", i, rec.Seq)
		}
		if rec.Description != inputs[i].Description {
			t.Fatalf("finding %d description %q, want %q", i, rec.Description, inputs[i].Description)
		}
	}
	if out.Findings[1].TaskIndex != 0 {
		t.Fatalf("NC record should link task 0, got %d", out.Findings[1].TaskIndex)
	}
	if out.Findings[0].TaskIndex != -1 || out.Findings[2].TaskIndex != -1 {
		t.Fatalf("non-NC records must not link tasks")
	}
}
