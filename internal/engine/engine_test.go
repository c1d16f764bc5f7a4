package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sitecheck/internal/config"
	"sitecheck/internal/db"
	"sitecheck/internal/domain"
	"sitecheck/internal/engine"
	"sitecheck/internal/engine/scoring"
	"sitecheck/internal/migrate"
	"sitecheck/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default("acme"))
	eng.Now = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func seedTemplate(t *testing.T, env testEnv) domain.Template {
	t.Helper()
	tpl, err := env.Engine.CreateTemplate(env.Ctx, "Warehouse walkabout", "warehouse", "inspector-1")
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return tpl
}

func TestCreateTemplateValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTemplate(env.Ctx, "  ", "", "inspector-1")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	_, err = env.Engine.CreateTemplate(env.Ctx, "ok", "submarine", "inspector-1")
	if !errors.As(err, &ve) {
		t.Fatalf("unknown area should be rejected, got %v", err)
	}
}

func TestAddItemOrderingAndValidation(t *testing.T) {
	env := newTestEnv(t)
	tpl := seedTemplate(t, env)

	if _, err := env.Engine.AddItem(env.Ctx, "missing", "q", domain.SeverityLow, "inspector-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var ve engine.ValidationError
	if _, err := env.Engine.AddItem(env.Ctx, tpl.ID, "q", "critical", "inspector-1"); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for severity, got %v", err)
	}

	questions := []string{"Exits clear?", "Extinguishers charged?", "PPE worn?"}
	for _, q := range questions {
		if _, err := env.Engine.AddItem(env.Ctx, tpl.ID, q, domain.SeverityMedium, "inspector-1"); err != nil {
			t.Fatalf("add item %q: %v", q, err)
		}
	}
	got, err := env.Engine.GetTemplate(env.Ctx, tpl.ID)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if len(got.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(got.Items))
	}
	for i, it := range got.Items {
		if it.Question != questions[i] {
			t.Fatalf("item %d = %q, want %q", i, it.Question, questions[i])
		}
		if it.Position != i+1 {
			t.Fatalf("item %d position = %d", i, it.Position)
		}
	}
}

func TestListActiveTemplatesExcludesDeactivated(t *testing.T) {
	env := newTestEnv(t)
	keep := seedTemplate(t, env)
	drop, err := env.Engine.CreateTemplate(env.Ctx, "Old checklist", "", "inspector-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.DeactivateTemplate(env.Ctx, drop.ID, "admin"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	list, err := env.Engine.ListActiveTemplates(env.Ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != keep.ID {
		t.Fatalf("expected only %s active, got %+v", keep.ID, list)
	}
	// deactivated template is still fetchable by id
	if _, err := env.Engine.GetTemplate(env.Ctx, drop.ID); err != nil {
		t.Fatalf("get deactivated: %v", err)
	}
}

func TestStartInspectionUnknownTemplate(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.StartInspection(env.Ctx, "nope", "inspector-1", "", ""); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitInspectionScoresAndDerivesTasks(t *testing.T) {
	env := newTestEnv(t)
	tpl := seedTemplate(t, env)
	in, err := env.Engine.StartInspection(env.Ctx, tpl.ID, "inspector-1", "Bay 4", "2025-03-01")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if in.Status != domain.InspectionOpen || in.OverallScore != nil {
		t.Fatalf("new inspection should be open and unscored: %+v", in)
	}

	res, err := env.Engine.SubmitInspection(env.Ctx, in.ID, []scoring.Input{
		{Type: domain.FindingNonConformance, Severity: domain.SeverityHigh, Description: "blocked exit"},
		{Type: domain.FindingNonConformance, Severity: domain.SeverityMedium, Description: "missing signage"},
		{Type: domain.FindingGoodPractice, Severity: domain.SeverityLow, Description: "tidy racks"},
	}, "inspector-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Inspection.OverallScore == nil || *res.Inspection.OverallScore != 70 {
		t.Fatalf("score = %v, want 70", res.Inspection.OverallScore)
	}
	if len(res.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(res.Tasks))
	}
	for _, task := range res.Tasks {
		if task.TaskType != domain.TaskTypeCorrectiveAction || task.Status != domain.TaskStatusOpen {
			t.Fatalf("bad task: %+v", task)
		}
	}
	if res.Tasks[0].Priority != domain.TaskPriorityHigh || res.Tasks[1].Priority != domain.TaskPriorityMedium {
		t.Fatalf("priorities: %+v", res.Tasks)
	}

	// persisted findings keep submission order and link back to their tasks
	findings, err := env.Engine.ListFindings(env.Ctx, in.ID)
	if err != nil {
		t.Fatalf("list findings: %v", err)
	}
	if len(findings) != 3 {
		t.Fatalf("findings = %d, want 3", len(findings))
	}
	if findings[0].LinkedTaskID == nil || *findings[0].LinkedTaskID != res.Tasks[0].ID {
		t.Fatalf("finding 0 not linked to task 0")
	}
	if findings[1].LinkedTaskID == nil || *findings[1].LinkedTaskID != res.Tasks[1].ID {
		t.Fatalf("finding 1 not linked to task 1")
	}
	if findings[2].LinkedTaskID != nil {
		t.Fatalf("good practice must not link a task")
	}
	for i, f := range findings {
		if f.Seq != i {
			t.Fatalf("finding %d has seq %d", i, f.Seq)
		}
	}
}

func TestSubmitInspectionEmptyBatch(t *testing.T) {
	env := newTestEnv(t)
	tpl := seedTemplate(t, env)
	in, err := env.Engine.StartInspection(env.Ctx, tpl.ID, "inspector-1", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := env.Engine.SubmitInspection(env.Ctx, in.ID, nil, "inspector-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if *res.Inspection.OverallScore != 100 || len(res.Findings) != 0 || len(res.Tasks) != 0 {
		t.Fatalf("empty batch should score 100 with no rows: %+v", res)
	}
}

func TestDoubleSubmitFailsWithoutSideEffects(t *testing.T) {
	env := newTestEnv(t)
	tpl := seedTemplate(t, env)
	in, err := env.Engine.StartInspection(env.Ctx, tpl.ID, "inspector-1", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := env.Engine.SubmitInspection(env.Ctx, in.ID, []scoring.Input{
		{Type: domain.FindingNonConformance, Severity: domain.SeverityLow, Description: "loose cable"},
	}, "inspector-1")
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err = env.Engine.SubmitInspection(env.Ctx, in.ID, []scoring.Input{
		{Type: domain.FindingNonConformance, Severity: domain.SeverityHigh, Description: "should not land"},
	}, "inspector-1")
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}

	got, err := env.Engine.GetInspection(env.Ctx, in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *got.OverallScore != *first.Inspection.OverallScore {
		t.Fatalf("score changed after failed resubmit")
	}
	findings, err := env.Engine.ListFindings(env.Ctx, in.ID)
	if err != nil {
		t.Fatalf("list findings: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d after failed resubmit, want 1", len(findings))
	}
}

func TestSubmitValidationFailureLeavesSessionOpen(t *testing.T) {
	env := newTestEnv(t)
	tpl := seedTemplate(t, env)
	in, err := env.Engine.StartInspection(env.Ctx, tpl.ID, "inspector-1", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = env.Engine.SubmitInspection(env.Ctx, in.ID, []scoring.Input{
		{Type: domain.FindingNonConformance, Severity: "catastrophic"},
	}, "inspector-1")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	got, err := env.Engine.GetInspection(env.Ctx, in.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.InspectionOpen {
		t.Fatalf("session should stay open after rejected batch, got %s", got.Status)
	}
	// a valid retry still succeeds
	if _, err := env.Engine.SubmitInspection(env.Ctx, in.ID, nil, "inspector-1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestFindingReportsJoinInspection(t *testing.T) {
	env := newTestEnv(t)
	tpl := seedTemplate(t, env)
	in, err := env.Engine.StartInspection(env.Ctx, tpl.ID, "inspector-1", "Bay 4", "2025-03-01")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.SubmitInspection(env.Ctx, in.ID, []scoring.Input{
		{Type: domain.FindingNonConformance, Severity: domain.SeverityHigh, Description: "blocked exit"},
		{Type: domain.FindingObservation, Severity: domain.SeverityLow, Description: "worn paint"},
	}, "inspector-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	reports, err := env.Engine.ListFindingReports(env.Ctx, repo.FindingFilters{})
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("reports = %d, want 2", len(reports))
	}
	for _, r := range reports {
		if r.Location != "Bay 4" || r.InspectionDate != "2025-03-01" {
			t.Fatalf("report missing inspection context: %+v", r)
		}
	}
	ncOnly, err := env.Engine.ListFindingReports(env.Ctx, repo.FindingFilters{Type: string(domain.FindingNonConformance)})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(ncOnly) != 1 || ncOnly[0].Description != "blocked exit" {
		t.Fatalf("type filter wrong: %+v", ncOnly)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	tpl := seedTemplate(t, env)
	a, _ := env.Engine.StartInspection(env.Ctx, tpl.ID, "inspector-1", "", "")
	if _, err := env.Engine.StartInspection(env.Ctx, tpl.ID, "inspector-2", "", ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.SubmitInspection(env.Ctx, a.ID, []scoring.Input{
		{Type: domain.FindingNonConformance, Severity: domain.SeverityHigh},
	}, "inspector-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	stats, err := env.Engine.Stats(env.Ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.InspectionsByStatus[domain.InspectionOpen] != 1 || stats.InspectionsByStatus[domain.InspectionScored] != 1 {
		t.Fatalf("by status: %+v", stats.InspectionsByStatus)
	}
	if stats.AverageScore == nil || *stats.AverageScore != 80 {
		t.Fatalf("avg = %v, want 80", stats.AverageScore)
	}
	if stats.OpenTasks != 1 {
		t.Fatalf("open tasks = %d, want 1", stats.OpenTasks)
	}
}

func TestSubmitKeepsUnrecognizedFindingType(t *testing.T) {
	env := newTestEnv(t)
	tpl := seedTemplate(t, env)
	in, err := env.Engine.StartInspection(env.Ctx, tpl.ID, "inspector-1", "Dock", "2025-03-01")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := env.Engine.SubmitInspection(env.Ctx, in.ID, []scoring.Input{
		{Type: "near_miss", Severity: domain.SeverityMedium, Description: "forklift swerve"},
	}, "inspector-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Inspection.OverallScore == nil || *res.Inspection.OverallScore != 90 {
		t.Fatalf("score = %v, want 90 (observation tier)", res.Inspection.OverallScore)
	}
	if len(res.Tasks) != 0 {
		t.Fatalf("unrecognized type must not spawn tasks, got %d", len(res.Tasks))
	}
	stored, err := env.Engine.ListFindings(env.Ctx, in.ID)
	if err != nil {
		t.Fatalf("list findings: %v", err)
	}
	if len(stored) != 1 || stored[0].Type != "near_miss" {
		t.Fatalf("stored type = %+v, want near_miss kept as submitted", stored)
	}
	if stored[0].LinkedTaskID != nil {
		t.Fatalf("unrecognized type must not link a task")
	}
}

func TestDeactivateTemplateCommitsStateAndEventTogether(t *testing.T) {
	env := newTestEnv(t)

	if err := env.Engine.DeactivateTemplate(env.Ctx, "missing", "admin"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "template.deactivate", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("failed deactivate must not log an event, got %d", len(events))
	}

	tpl := seedTemplate(t, env)
	if err := env.Engine.DeactivateTemplate(env.Ctx, tpl.ID, "admin"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, err := env.Engine.GetTemplate(env.Ctx, tpl.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active {
		t.Fatalf("template still active after deactivate")
	}
	events, err = env.Engine.Repo.LatestEvents(env.Ctx, 10, "template.deactivate", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].EntityID != tpl.ID {
		t.Fatalf("deactivate event = %+v, want one for %s", events, tpl.ID)
	}
}
