package sitechecksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal SiteCheck HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Template represents the API template model.
type Template struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AreaType  string `json:"area_type,omitempty"`
	Active    bool   `json:"active"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
	Items     []Item `json:"items,omitempty"`
}

// Item is one checklist question on a template.
type Item struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	Question   string `json:"question"`
	Severity   string `json:"severity"`
	Position   int    `json:"position"`
}

// Inspection represents one walkthrough against a template.
type Inspection struct {
	ID             string `json:"id"`
	TemplateID     string `json:"template_id"`
	ConductedBy    string `json:"conducted_by"`
	Location       string `json:"location,omitempty"`
	InspectionDate string `json:"inspection_date"`
	Status         string `json:"status"`
	OverallScore   *int   `json:"overall_score,omitempty"`
	ScoredAt       string `json:"scored_at,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// FindingInput is one observed finding submitted for scoring.
type FindingInput struct {
	FindingType string `json:"finding_type"`
	Severity    string `json:"severity"`
	Description string `json:"description,omitempty"`
}

// Finding is a stored finding with its derived task link.
type Finding struct {
	ID           string `json:"id"`
	InspectionID string `json:"inspection_id"`
	Seq          int    `json:"seq"`
	FindingType  string `json:"finding_type"`
	Severity     string `json:"severity"`
	Description  string `json:"description,omitempty"`
	LinkedTaskID string `json:"linked_task_id,omitempty"`
}

// Task is a corrective action derived from a non-conformance.
type Task struct {
	ID          string `json:"id"`
	TaskType    string `json:"task_type"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// SubmitResult is the full outcome of a submission.
type SubmitResult struct {
	Inspection Inspection `json:"inspection"`
	Findings   []Finding  `json:"findings"`
	Tasks      []Task     `json:"tasks"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// Stats summarizes inspection activity.
type Stats struct {
	InspectionsByStatus map[string]int `json:"inspections_by_status"`
	AverageScore        *float64       `json:"average_score,omitempty"`
	OpenTasks           int            `json:"open_tasks"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateTemplate creates an inspection template.
func (c *Client) CreateTemplate(ctx context.Context, name, areaType string) (Template, error) {
	body := map[string]any{
		"name":      name,
		"area_type": areaType,
	}
	var resp Template
	err := c.do(ctx, http.MethodPost, "v0/templates", body, &resp)
	return resp, err
}

// AddItem appends a checklist question to a template.
func (c *Client) AddItem(ctx context.Context, templateID, question, severity string) (Item, error) {
	body := map[string]any{
		"question": question,
		"severity": severity,
	}
	var resp Item
	endpoint := fmt.Sprintf("v0/templates/%s/items", url.PathEscape(templateID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// GetTemplate fetches a template with its items.
func (c *Client) GetTemplate(ctx context.Context, id string) (Template, error) {
	var resp Template
	endpoint := fmt.Sprintf("v0/templates/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListTemplates returns active templates.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	var resp struct {
		Items []Template `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v0/templates", nil, &resp)
	return resp.Items, err
}

// StartInspection opens an inspection against a template.
func (c *Client) StartInspection(ctx context.Context, templateID, location, inspectionDate string) (Inspection, error) {
	body := map[string]any{
		"template_id":     templateID,
		"location":        location,
		"inspection_date": inspectionDate,
	}
	var resp Inspection
	err := c.do(ctx, http.MethodPost, "v0/inspections", body, &resp)
	return resp, err
}

// SubmitInspection submits a finding batch; the server scores the
// inspection and derives corrective tasks.
func (c *Client) SubmitInspection(ctx context.Context, inspectionID string, findings []FindingInput) (SubmitResult, error) {
	body := map[string]any{
		"findings": findings,
	}
	var resp SubmitResult
	endpoint := fmt.Sprintf("v0/inspections/%s/submit", url.PathEscape(inspectionID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// GetInspection fetches an inspection by id.
func (c *Client) GetInspection(ctx context.Context, id string) (Inspection, error) {
	var resp Inspection
	endpoint := fmt.Sprintf("v0/inspections/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// InspectionFindings returns the stored findings of one inspection.
func (c *Client) InspectionFindings(ctx context.Context, inspectionID string) ([]Finding, error) {
	var resp struct {
		Items []Finding `json:"items"`
	}
	endpoint := fmt.Sprintf("v0/inspections/%s/findings", url.PathEscape(inspectionID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// ListTasks returns corrective tasks, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, status string) ([]Task, error) {
	endpoint := "v0/tasks"
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Stats returns inspection statistics.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, "v0/stats", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
