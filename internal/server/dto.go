package server

import (
	"encoding/json"

	"sitecheck/internal/domain"
)

// Request payloads

type CreateTemplateRequest struct {
	Name     string `json:"name"`
	AreaType string `json:"area_type,omitempty"`
}

type AddItemRequest struct {
	Question string `json:"question"`
	Severity string `json:"severity" enum:"low,medium,high"`
}

type StartInspectionRequest struct {
	TemplateID     string `json:"template_id"`
	Location       string `json:"location,omitempty"`
	InspectionDate string `json:"inspection_date,omitempty"`
}

type FindingInput struct {
	FindingType string `json:"finding_type"`
	Severity    string `json:"severity" enum:"low,medium,high"`
	Description string `json:"description,omitempty"`
}

type SubmitInspectionRequest struct {
	Findings []FindingInput `json:"findings"`
}

type TrainingGapRequestBody struct {
	Incidents    []map[string]any `json:"incidents"`
	NearMisses   []map[string]any `json:"near_misses"`
	TrainingData []map[string]any `json:"training_data"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type ItemResponse struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	Question   string `json:"question"`
	Severity   string `json:"severity" enum:"low,medium,high"`
	Position   int    `json:"position"`
}

type TemplateResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	AreaType  string         `json:"area_type,omitempty"`
	Active    bool           `json:"active"`
	CreatedBy string         `json:"created_by"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	Items     []ItemResponse `json:"items"`
}

type InspectionResponse struct {
	ID             string  `json:"id"`
	TemplateID     string  `json:"template_id"`
	ConductedBy    string  `json:"conducted_by"`
	Location       string  `json:"location,omitempty"`
	InspectionDate string  `json:"inspection_date"`
	Status         string  `json:"status" enum:"open,scored"`
	OverallScore   *int    `json:"overall_score,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	ScoredAt       *string `json:"scored_at,omitempty" format:"date-time"`
}

type FindingResponse struct {
	ID           string  `json:"id"`
	InspectionID string  `json:"inspection_id"`
	Seq          int     `json:"seq"`
	FindingType  string  `json:"finding_type"`
	Severity     string  `json:"severity" enum:"low,medium,high"`
	Description  string  `json:"description,omitempty"`
	LinkedTaskID *string `json:"linked_task_id,omitempty"`
}

type FindingReportResponse struct {
	FindingResponse
	Location       string `json:"location,omitempty"`
	InspectionDate string `json:"inspection_date"`
}

type TaskResponse struct {
	ID          string `json:"id"`
	TaskType    string `json:"task_type"`
	Priority    string `json:"priority" enum:"high,medium"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type SubmitInspectionResponse struct {
	Inspection InspectionResponse `json:"inspection"`
	Findings   []FindingResponse  `json:"findings"`
	Tasks      []TaskResponse     `json:"tasks"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	Key       string `json:"key,omitempty"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedTemplates struct {
	Items []TemplateResponse `json:"items"`
}

type paginatedInspections struct {
	Items      []InspectionResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type paginatedFindingReports struct {
	Items      []FindingReportResponse `json:"items"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

type paginatedTasks struct {
	Items []TaskResponse `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func itemResponse(it domain.Item) ItemResponse {
	return ItemResponse{
		ID:         it.ID,
		TemplateID: it.TemplateID,
		Question:   it.Question,
		Severity:   string(it.Severity),
		Position:   it.Position,
	}
}

func templateResponse(t domain.Template) TemplateResponse {
	items := make([]ItemResponse, 0, len(t.Items))
	for _, it := range t.Items {
		items = append(items, itemResponse(it))
	}
	return TemplateResponse{
		ID:        t.ID,
		Name:      t.Name,
		AreaType:  t.AreaType,
		Active:    t.Active,
		CreatedBy: t.CreatedBy,
		CreatedAt: t.CreatedAt,
		Items:     items,
	}
}

func inspectionResponse(in domain.Inspection) InspectionResponse {
	return InspectionResponse{
		ID:             in.ID,
		TemplateID:     in.TemplateID,
		ConductedBy:    in.ConductedBy,
		Location:       in.Location,
		InspectionDate: in.InspectionDate,
		Status:         in.Status,
		OverallScore:   in.OverallScore,
		CreatedAt:      in.CreatedAt,
		ScoredAt:       in.ScoredAt,
	}
}

func findingResponse(f domain.Finding) FindingResponse {
	return FindingResponse{
		ID:           f.ID,
		InspectionID: f.InspectionID,
		Seq:          f.Seq,
		FindingType:  string(f.Type),
		Severity:     string(f.Severity),
		Description:  f.Description,
		LinkedTaskID: f.LinkedTaskID,
	}
}

func findingReportResponse(fr domain.FindingReport) FindingReportResponse {
	return FindingReportResponse{
		FindingResponse: findingResponse(fr.Finding),
		Location:        fr.Location,
		InspectionDate:  fr.InspectionDate,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse(t)
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}

func mapInspections(items []domain.Inspection) []InspectionResponse {
	res := make([]InspectionResponse, 0, len(items))
	for _, in := range items {
		res = append(res, inspectionResponse(in))
	}
	return res
}

func mapFindings(items []domain.Finding) []FindingResponse {
	res := make([]FindingResponse, 0, len(items))
	for _, f := range items {
		res = append(res, findingResponse(f))
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
