package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sitecheck/internal/config"
	"sitecheck/internal/domain"
	"sitecheck/internal/engine/scoring"
	"sitecheck/internal/events"
	"sitecheck/internal/repo"
	"sitecheck/internal/training"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Detector training.Detector
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
	if cfg != nil && cfg.Training.DetectorURL != "" {
		e.Detector = training.NewHTTPDetector(cfg.Training.DetectorURL)
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CreateTemplate registers a new active checklist template with no items.
func (e Engine) CreateTemplate(ctx context.Context, name, areaType, actorID string) (domain.Template, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Template{}, ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if areaType != "" && e.Config != nil && len(e.Config.Areas.Catalog) > 0 {
		if !e.Config.KnownArea(areaType) {
			return domain.Template{}, ValidationError{Field: "area_type", Reason: fmt.Sprintf("unknown area %q", areaType)}
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()

	t := domain.Template{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		AreaType:  areaType,
		Active:    true,
		CreatedBy: actorID,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertTemplate(ctx, tx, t); err != nil {
		return domain.Template{}, fmt.Errorf("insert template: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "template.create", "template", t.ID, actorID, events.EventPayload{"name": t.Name, "area_type": t.AreaType}); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

// AddItem appends a checklist question to an existing template. Item order is
// insertion order; positions are assigned inside the transaction so concurrent
// appends never collide.
func (e Engine) AddItem(ctx context.Context, templateID, question string, severity domain.Severity, actorID string) (domain.Item, error) {
	if strings.TrimSpace(question) == "" {
		return domain.Item{}, ValidationError{Field: "question", Reason: "must not be empty"}
	}
	if !severity.Valid() {
		return domain.Item{}, ValidationError{Field: "severity", Reason: fmt.Sprintf("must be one of low, medium, high; got %q", severity)}
	}
	if _, err := e.Repo.GetTemplate(ctx, templateID); err != nil {
		return domain.Item{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()

	pos, err := e.Repo.NextItemPosition(ctx, tx, templateID)
	if err != nil {
		return domain.Item{}, err
	}
	it := domain.Item{
		ID:         uuid.NewString(),
		TemplateID: templateID,
		Question:   strings.TrimSpace(question),
		Severity:   severity,
		Position:   pos,
	}
	if err := e.Repo.InsertItem(ctx, tx, it); err != nil {
		return domain.Item{}, fmt.Errorf("insert item: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "template.item_add", "template", templateID, actorID, events.EventPayload{"item_id": it.ID, "severity": string(severity)}); err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	return it, nil
}

func (e Engine) ListActiveTemplates(ctx context.Context) ([]domain.Template, error) {
	return e.Repo.ListActiveTemplates(ctx)
}

func (e Engine) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	return e.Repo.GetTemplate(ctx, id)
}

// DeactivateTemplate retires a template from the active listing. Existing
// inspections keep referencing it.
func (e Engine) DeactivateTemplate(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeactivateTemplate(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "template.deactivate", "template", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// StartInspection opens a new session against a template.
func (e Engine) StartInspection(ctx context.Context, templateID, actorID, location, inspectionDate string) (domain.Inspection, error) {
	if _, err := e.Repo.GetTemplate(ctx, templateID); err != nil {
		return domain.Inspection{}, err
	}
	if inspectionDate == "" {
		inspectionDate = e.now().UTC().Format("2006-01-02")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Inspection{}, err
	}
	defer tx.Rollback()

	in := domain.Inspection{
		ID:             uuid.NewString(),
		TemplateID:     templateID,
		ConductedBy:    actorID,
		Location:       location,
		InspectionDate: inspectionDate,
		Status:         domain.InspectionOpen,
		CreatedAt:      e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertInspection(ctx, tx, in); err != nil {
		return domain.Inspection{}, fmt.Errorf("insert inspection: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "inspection.start", "inspection", in.ID, actorID, events.EventPayload{"template_id": templateID, "location": location}); err != nil {
		return domain.Inspection{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Inspection{}, err
	}
	return in, nil
}

func (e Engine) GetInspection(ctx context.Context, id string) (domain.Inspection, error) {
	return e.Repo.GetInspection(ctx, id)
}

func (e Engine) ListInspections(ctx context.Context, f repo.InspectionFilters) ([]domain.Inspection, error) {
	return e.Repo.ListInspections(ctx, f)
}

// SubmitResult is what a completed submission hands back to the caller.
type SubmitResult struct {
	Inspection domain.Inspection
	Findings   []domain.Finding
	Tasks      []domain.Task
}

// SubmitInspection scores a batch of findings and closes the session. The
// score update, finding rows, and derived corrective tasks commit together or
// not at all. Each task is inserted before the finding that references it.
func (e Engine) SubmitInspection(ctx context.Context, inspectionID string, inputs []scoring.Input, actorID string) (SubmitResult, error) {
	in, err := e.Repo.GetInspection(ctx, inspectionID)
	if err != nil {
		return SubmitResult{}, err
	}
	if in.Status != domain.InspectionOpen {
		return SubmitResult{}, InvalidStateError{InspectionID: inspectionID, Status: in.Status}
	}
	out, err := scoring.Evaluate(inputs)
	if err != nil {
		return SubmitResult{}, ValidationError{Field: "findings", Reason: err.Error()}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SubmitResult{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	ok, err := e.Repo.MarkInspectionScored(ctx, tx, inspectionID, out.Score, now)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("score inspection: %w", err)
	}
	if !ok {
		// Another submission won the race between our read and this update.
		return SubmitResult{}, InvalidStateError{InspectionID: inspectionID, Status: domain.InspectionScored}
	}

	tasks := make([]domain.Task, len(out.Tasks))
	for i, draft := range out.Tasks {
		t := domain.Task{
			ID:          uuid.NewString(),
			TaskType:    domain.TaskTypeCorrectiveAction,
			Priority:    draft.Priority,
			Status:      domain.TaskStatusOpen,
			Description: out.Findings[draft.FindingIndex].Description,
			CreatedAt:   now,
		}
		if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
			return SubmitResult{}, fmt.Errorf("insert task: %w", err)
		}
		tasks[i] = t
	}

	findings := make([]domain.Finding, len(out.Findings))
	for i, rec := range out.Findings {
		f := domain.Finding{
			ID:           uuid.NewString(),
			InspectionID: inspectionID,
			Seq:          rec.Seq,
			Type:         rec.Type,
			Severity:     rec.Severity,
			Description:  rec.Description,
		}
		if rec.TaskIndex >= 0 {
			f.LinkedTaskID = &tasks[rec.TaskIndex].ID
		}
		if err := e.Repo.InsertFinding(ctx, tx, f); err != nil {
			return SubmitResult{}, fmt.Errorf("insert finding: %w", err)
		}
		findings[i] = f
	}

	if err := e.Events.Append(ctx, tx, "inspection.submit", "inspection", inspectionID, actorID, events.EventPayload{
		"overall_score": out.Score,
		"findings":      len(findings),
		"tasks":         len(tasks),
	}); err != nil {
		return SubmitResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SubmitResult{}, err
	}

	in.Status = domain.InspectionScored
	in.OverallScore = &out.Score
	in.ScoredAt = &now
	return SubmitResult{Inspection: in, Findings: findings, Tasks: tasks}, nil
}

func (e Engine) ListFindings(ctx context.Context, inspectionID string) ([]domain.Finding, error) {
	if _, err := e.Repo.GetInspection(ctx, inspectionID); err != nil {
		return nil, err
	}
	return e.Repo.ListFindings(ctx, inspectionID)
}

func (e Engine) ListFindingReports(ctx context.Context, f repo.FindingFilters) ([]domain.FindingReport, error) {
	if f.Severity != "" && !domain.Severity(f.Severity).Valid() {
		return nil, ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", f.Severity)}
	}
	return e.Repo.ListFindingReports(ctx, f)
}

// Stats summarizes inspection activity for dashboards.
type Stats struct {
	InspectionsByStatus map[string]int `json:"inspections_by_status"`
	AverageScore        *float64       `json:"average_score,omitempty"`
	OpenTasks           int            `json:"open_tasks"`
}

func (e Engine) Stats(ctx context.Context) (Stats, error) {
	byStatus, err := e.Repo.CountInspectionsByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	avg, err := e.Repo.AverageScore(ctx)
	if err != nil {
		return Stats{}, err
	}
	open, err := e.Repo.ListTasks(ctx, domain.TaskStatusOpen, 0)
	if err != nil {
		return Stats{}, err
	}
	return Stats{InspectionsByStatus: byStatus, AverageScore: avg, OpenTasks: len(open)}, nil
}

// AnalyzeTrainingGaps forwards the three input collections to the configured
// external detector. The detection algorithm is not ours.
func (e Engine) AnalyzeTrainingGaps(ctx context.Context, req domain.TrainingGapRequest) (domain.TrainingGapAnalysis, error) {
	if e.Detector == nil {
		return domain.TrainingGapAnalysis{}, errors.New("training gap detector not configured")
	}
	return e.Detector.Analyze(ctx, req)
}
