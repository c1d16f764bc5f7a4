package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sitecheck/internal/config"
	"sitecheck/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertTemplate(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	active := 0
	if t.Active {
		active = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO inspection_templates(id,name,area_type,active,created_by,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.Name, nullable(t.AreaType), active, t.CreatedBy, t.CreatedAt)
	return err
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	var t domain.Template
	var areaType sql.NullString
	var active int
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,area_type,active,created_by,created_at FROM inspection_templates WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &areaType, &active, &t.CreatedBy, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if areaType.Valid {
		t.AreaType = areaType.String
	}
	t.Active = active != 0
	items, err := r.ListItems(ctx, t.ID)
	if err != nil {
		return t, err
	}
	t.Items = items
	return t, nil
}

// ListActiveTemplates returns active templates with their items eagerly attached,
// in insertion order per template.
func (r Repo) ListActiveTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(area_type,''),active,created_by,created_at FROM inspection_templates WHERE active=1 ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		var t domain.Template
		var active int
		if err := rows.Scan(&t.ID, &t.Name, &t.AreaType, &active, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Active = active != 0
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		items, err := r.ListItems(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Items = items
	}
	return res, nil
}

// DeactivateTemplate flips active to false; deactivated templates stay queryable
// by id but drop out of the active listing. Runs inside the caller's tx so the
// flip and its audit event commit together.
func (r Repo) DeactivateTemplate(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE inspection_templates SET active=0 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO inspection_items(id,template_id,question,severity,position) VALUES (?,?,?,?,?)`,
		it.ID, it.TemplateID, it.Question, string(it.Severity), it.Position)
	return err
}

// NextItemPosition returns the next append position for a template's checklist.
func (r Repo) NextItemPosition(ctx context.Context, tx *sql.Tx, templateID string) (int, error) {
	var max sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT MAX(position) FROM inspection_items WHERE template_id=?`, templateID).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

func (r Repo) ListItems(ctx context.Context, templateID string) ([]domain.Item, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,template_id,question,severity,position FROM inspection_items WHERE template_id=? ORDER BY position ASC`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.Item
	for rows.Next() {
		var it domain.Item
		var sev string
		if err := rows.Scan(&it.ID, &it.TemplateID, &it.Question, &sev, &it.Position); err != nil {
			return nil, err
		}
		it.Severity = domain.Severity(sev)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r Repo) InsertInspection(ctx context.Context, tx *sql.Tx, in domain.Inspection) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO inspections(id,template_id,conducted_by,location,inspection_date,status,overall_score,created_at,scored_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		in.ID, in.TemplateID, in.ConductedBy, nullable(in.Location), in.InspectionDate, in.Status,
		nullableIntPtr(in.OverallScore), in.CreatedAt, nullableStringPtr(in.ScoredAt))
	return err
}

func scanInspection(scan func(...any) error) (domain.Inspection, error) {
	var in domain.Inspection
	var location, scoredAt sql.NullString
	var score sql.NullInt64
	err := scan(&in.ID, &in.TemplateID, &in.ConductedBy, &location, &in.InspectionDate, &in.Status, &score, &in.CreatedAt, &scoredAt)
	if err != nil {
		return in, err
	}
	if location.Valid {
		in.Location = location.String
	}
	if score.Valid {
		v := int(score.Int64)
		in.OverallScore = &v
	}
	if scoredAt.Valid {
		in.ScoredAt = &scoredAt.String
	}
	return in, nil
}

const inspectionColumns = `id,template_id,conducted_by,location,inspection_date,status,overall_score,created_at,scored_at`

func (r Repo) GetInspection(ctx context.Context, id string) (domain.Inspection, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE id=?`, id)
	in, err := scanInspection(row.Scan)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	return in, err
}

func (r Repo) GetInspectionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Inspection, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+inspectionColumns+` FROM inspections WHERE id=?`, id)
	in, err := scanInspection(row.Scan)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	return in, err
}

type InspectionFilters struct {
	TemplateID      string
	ConductedBy     string
	Status          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListInspections(ctx context.Context, f InspectionFilters) ([]domain.Inspection, error) {
	var clauses []string
	var args []any
	if f.TemplateID != "" {
		clauses = append(clauses, "template_id=?")
		args = append(args, f.TemplateID)
	}
	if f.ConductedBy != "" {
		clauses = append(clauses, "conducted_by=?")
		args = append(args, f.ConductedBy)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + inspectionColumns + ` FROM inspections ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Inspection
	for rows.Next() {
		in, err := scanInspection(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

// MarkInspectionScored transitions an open inspection to scored. The update is
// guarded on the current status so concurrent submissions serialize: exactly
// one caller observes ok=true, the rest see ok=false.
func (r Repo) MarkInspectionScored(ctx context.Context, tx *sql.Tx, id string, score int, scoredAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE inspections SET status=?, overall_score=?, scored_at=? WHERE id=? AND status=?`,
		domain.InspectionScored, score, scoredAt, id, domain.InspectionOpen)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) InsertFinding(ctx context.Context, tx *sql.Tx, f domain.Finding) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO inspection_findings(id,inspection_id,seq,finding_type,severity,description,linked_task_id)
VALUES (?,?,?,?,?,?,?)`,
		f.ID, f.InspectionID, f.Seq, string(f.Type), string(f.Severity), nullable(f.Description), nullableStringPtr(f.LinkedTaskID))
	return err
}

func (r Repo) ListFindings(ctx context.Context, inspectionID string) ([]domain.Finding, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,inspection_id,seq,finding_type,severity,description,linked_task_id
FROM inspection_findings WHERE inspection_id=? ORDER BY seq ASC`, inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Finding
	for rows.Next() {
		f, err := scanFinding(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func scanFinding(scan func(...any) error) (domain.Finding, error) {
	var f domain.Finding
	var ftype, sev string
	var desc, taskID sql.NullString
	err := scan(&f.ID, &f.InspectionID, &f.Seq, &ftype, &sev, &desc, &taskID)
	if err != nil {
		return f, err
	}
	f.Type = domain.FindingType(ftype)
	f.Severity = domain.Severity(sev)
	if desc.Valid {
		f.Description = desc.String
	}
	if taskID.Valid {
		f.LinkedTaskID = &taskID.String
	}
	return f, nil
}

// FindingFilters narrows the findings report. The cursor fields hold the sort
// key of the last row already returned: parent created_at, inspection id, seq.
type FindingFilters struct {
	InspectionID       string
	Type               string
	Severity           string
	Limit              int
	CursorCreatedAt    string
	CursorInspectionID string
	CursorSeq          int
}

// ListFindingReports returns findings joined with their parent inspection's
// location and date, newest inspections first, findings in submission order.
func (r Repo) ListFindingReports(ctx context.Context, f FindingFilters) ([]domain.FindingReport, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.InspectionID != "" {
		clauses = append(clauses, "fi.inspection_id=?")
		args = append(args, f.InspectionID)
	}
	if f.Type != "" {
		clauses = append(clauses, "fi.finding_type=?")
		args = append(args, f.Type)
	}
	if f.Severity != "" {
		clauses = append(clauses, "fi.severity=?")
		args = append(args, f.Severity)
	}
	if f.CursorCreatedAt != "" && f.CursorInspectionID != "" {
		// Keyset predicate matching the ORDER BY below: strictly after the
		// cursor row in (created_at DESC, inspection_id DESC, seq ASC) order.
		clauses = append(clauses, `(i.created_at < ? OR (i.created_at = ? AND fi.inspection_id < ?) OR (i.created_at = ? AND fi.inspection_id = ? AND fi.seq > ?))`)
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorInspectionID, f.CursorCreatedAt, f.CursorInspectionID, f.CursorSeq)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT fi.id,fi.inspection_id,fi.seq,fi.finding_type,fi.severity,fi.description,fi.linked_task_id,
COALESCE(i.location,''),i.inspection_date,i.created_at
FROM inspection_findings fi
JOIN inspections i ON i.id=fi.inspection_id ` + where + ` ORDER BY i.created_at DESC, fi.inspection_id DESC, fi.seq ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FindingReport
	for rows.Next() {
		var fr domain.FindingReport
		var ftype, sev string
		var desc, taskID sql.NullString
		if err := rows.Scan(&fr.ID, &fr.InspectionID, &fr.Seq, &ftype, &sev, &desc, &taskID, &fr.Location, &fr.InspectionDate, &fr.InspectionCreatedAt); err != nil {
			return nil, err
		}
		fr.Type = domain.FindingType(ftype)
		fr.Severity = domain.Severity(sev)
		if desc.Valid {
			fr.Description = desc.String
		}
		if taskID.Valid {
			fr.LinkedTaskID = &taskID.String
		}
		res = append(res, fr)
	}
	return res, rows.Err()
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,task_type,priority,status,description,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.TaskType, t.Priority, t.Status, nullable(t.Description), t.CreatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,task_type,priority,status,description,created_at FROM tasks WHERE id=?`, id).
		Scan(&t.ID, &t.TaskType, &t.Priority, &t.Status, &desc, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if desc.Valid {
		t.Description = desc.String
	}
	return t, err
}

func (r Repo) ListTasks(ctx context.Context, status string, limit int) ([]domain.Task, error) {
	query := `SELECT id,task_type,priority,status,description,created_at FROM tasks`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		var desc sql.NullString
		if err := rows.Scan(&t.ID, &t.TaskType, &t.Priority, &t.Status, &desc, &t.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			t.Description = desc.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountInspectionsByStatus aggregates sessions per lifecycle state.
func (r Repo) CountInspectionsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM inspections GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// AverageScore returns the mean overall score across scored inspections,
// or nil when nothing has been scored yet.
func (r Repo) AverageScore(ctx context.Context) (*float64, error) {
	var avg sql.NullFloat64
	err := r.DB.QueryRowContext(ctx, `SELECT AVG(overall_score) FROM inspections WHERE status=?`, domain.InspectionScored).Scan(&avg)
	if err != nil {
		return nil, err
	}
	if !avg.Valid {
		return nil, nil
	}
	return &avg.Float64, nil
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`
	return r.queryEvents(ctx, query, cursor, limit)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) UpsertOrgConfig(ctx context.Context, cfg *config.Config) error {
	return upsertOrgConfig(ctx, r.DB, nil, cfg)
}

func (r Repo) UpsertOrgConfigTx(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	return upsertOrgConfig(ctx, nil, tx, cfg)
}

func upsertOrgConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO org_configs(id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, cfg.Org.ID, string(payload), now, now)
	return err
}

func (r Repo) GetOrgConfig(ctx context.Context, orgID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM org_configs WHERE id=?`, orgID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Org.ID == "" {
		cfg.Org.ID = orgID
	}
	return &cfg, cfg.Validate()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
