package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"testing"

	"sitecheck/internal/app"
	"sitecheck/internal/config"
	"sitecheck/internal/db"
	"sitecheck/internal/engine"
	"sitecheck/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var adminHeaders = map[string]string{"X-Actor-Id": "admin"}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("acme")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := app.Bootstrap(context.Background(), conn, cfg, "admin"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	e := engine.New(conn, cfg)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createTemplate(t *testing.T, srv *testServer) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/templates", map[string]any{
		"name":      "Warehouse walkabout",
		"area_type": "warehouse",
	}, adminHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create template: %d %s", res.StatusCode, string(data))
	}
	var tpl TemplateResponse
	if err := json.Unmarshal(data, &tpl); err != nil {
		t.Fatalf("unmarshal template: %v", err)
	}
	return tpl.ID
}

func TestInspectionLifecycle(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	tplID := createTemplate(t, srv)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/templates/"+tplID+"/items", map[string]any{
		"question": "Fire exits unobstructed?",
		"severity": "high",
	}, adminHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add item: %d %s", res.StatusCode, string(data))
	}

	startRes, startBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/inspections", map[string]any{
		"template_id":     tplID,
		"location":        "Bay 4",
		"inspection_date": "2025-03-01",
	}, adminHeaders)
	if startRes.StatusCode != http.StatusCreated {
		t.Fatalf("start inspection: %d %s", startRes.StatusCode, string(startBody))
	}
	var started InspectionResponse
	if err := json.Unmarshal(startBody, &started); err != nil {
		t.Fatalf("unmarshal inspection: %v", err)
	}
	if started.Status != "open" || started.OverallScore != nil {
		t.Fatalf("new inspection should be open and unscored: %+v", started)
	}

	submitRes, submitBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/inspections/"+started.ID+"/submit", map[string]any{
		"findings": []map[string]any{
			{"finding_type": "NC", "severity": "high", "description": "blocked exit"},
			{"finding_type": "NC", "severity": "medium", "description": "missing signage"},
			{"finding_type": "good_practice", "severity": "low", "description": "tidy racks"},
		},
	}, adminHeaders)
	if submitRes.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", submitRes.StatusCode, string(submitBody))
	}
	var submitted SubmitInspectionResponse
	if err := json.Unmarshal(submitBody, &submitted); err != nil {
		t.Fatalf("unmarshal submit: %v", err)
	}
	if submitted.Inspection.OverallScore == nil || *submitted.Inspection.OverallScore != 70 {
		t.Fatalf("score = %v, want 70", submitted.Inspection.OverallScore)
	}
	if len(submitted.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(submitted.Tasks))
	}
	if submitted.Tasks[0].Priority != "high" || submitted.Tasks[1].Priority != "medium" {
		t.Fatalf("task priorities: %+v", submitted.Tasks)
	}

	// second submission conflicts
	againRes, againBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/inspections/"+started.ID+"/submit", map[string]any{
		"findings": []map[string]any{},
	}, adminHeaders)
	if againRes.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", againRes.StatusCode, string(againBody))
	}
}

func TestSubmitInvalidSeverityRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	tplID := createTemplate(t, srv)

	startRes, startBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/inspections", map[string]any{
		"template_id": tplID,
	}, adminHeaders)
	if startRes.StatusCode != http.StatusCreated {
		t.Fatalf("start: %d %s", startRes.StatusCode, string(startBody))
	}
	var started InspectionResponse
	_ = json.Unmarshal(startBody, &started)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/inspections/"+started.ID+"/submit", map[string]any{
		"findings": []map[string]any{
			{"finding_type": "NC", "severity": "catastrophic"},
		},
	}, adminHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
}

func TestTemplateEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	tplID := createTemplate(t, srv)

	// empty name rejected
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/templates", map[string]any{"name": ""}, adminHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty name: %d %s", res.StatusCode, string(data))
	}

	// unknown template 404s on item add
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/templates/nope/items", map[string]any{
		"question": "q", "severity": "low",
	}, adminHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing template: %d %s", res.StatusCode, string(data))
	}

	listRes, listBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/templates", nil, adminHeaders)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", listRes.StatusCode, string(listBody))
	}
	var listed paginatedTemplates
	if err := json.Unmarshal(listBody, &listed); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(listed.Items) != 1 || listed.Items[0].ID != tplID {
		t.Fatalf("unexpected listing: %+v", listed)
	}

	delRes, delBody := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/templates/"+tplID, nil, adminHeaders)
	if delRes.StatusCode != http.StatusNoContent && delRes.StatusCode != http.StatusOK {
		t.Fatalf("deactivate: %d %s", delRes.StatusCode, string(delBody))
	}
	listRes, listBody = doJSON(t, client, http.MethodGet, srv.URL+"/v0/templates", nil, adminHeaders)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list after deactivate: %d", listRes.StatusCode)
	}
	listed = paginatedTemplates{}
	_ = json.Unmarshal(listBody, &listed)
	if len(listed.Items) != 0 {
		t.Fatalf("deactivated template still listed: %+v", listed)
	}
}

func TestFindingsFeed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	tplID := createTemplate(t, srv)

	_, startBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/inspections", map[string]any{
		"template_id":     tplID,
		"location":        "Bay 4",
		"inspection_date": "2025-03-01",
	}, adminHeaders)
	var started InspectionResponse
	_ = json.Unmarshal(startBody, &started)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/inspections/"+started.ID+"/submit", map[string]any{
		"findings": []map[string]any{
			{"finding_type": "NC", "severity": "high", "description": "blocked exit"},
			{"finding_type": "observation", "severity": "low", "description": "worn paint"},
		},
	}, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}

	feedRes, feedBody := doJSON(t, client, http.MethodGet, srv.URL+"/v0/findings?severity=high", nil, adminHeaders)
	if feedRes.StatusCode != http.StatusOK {
		t.Fatalf("findings feed: %d %s", feedRes.StatusCode, string(feedBody))
	}
	var feed paginatedFindingReports
	if err := json.Unmarshal(feedBody, &feed); err != nil {
		t.Fatalf("unmarshal feed: %v", err)
	}
	if len(feed.Items) != 1 {
		t.Fatalf("feed items = %d, want 1", len(feed.Items))
	}
	if feed.Items[0].Location != "Bay 4" || feed.Items[0].InspectionDate != "2025-03-01" {
		t.Fatalf("feed missing inspection context: %+v", feed.Items[0])
	}
	if feed.Items[0].LinkedTaskID == nil {
		t.Fatalf("NC finding should link a task")
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/templates", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}

	// health is open
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
}

func TestPermissionDenied(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	// actor with no roles at all
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/templates", map[string]any{
		"name": "Nope",
	}, map[string]string{"X-Actor-Id": "stranger"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
}

func TestDevLoginAndJWT(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actor_id":    "jwt-user",
		"permissions": []string{"template.list"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/templates", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("jwt listing: %d %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{
		"actor_id": "admin",
		"name":     "ci",
	}, adminHeaders)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create key: %d %s", res.StatusCode, string(data))
	}
	var key APIKeyResponse
	if err := json.Unmarshal(data, &key); err != nil {
		t.Fatalf("unmarshal key: %v", err)
	}
	if key.Key == "" {
		t.Fatalf("secret should be returned on creation")
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"X-Api-Key": key.Key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth: %d %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal whoami: %v", err)
	}
	if who.ActorID != "admin" {
		t.Fatalf("actor = %s, want admin", who.ActorID)
	}
}

func TestEventsRecorded(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	createTemplate(t, srv)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=template.create", nil, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var events paginatedEvents
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(events.Items) != 1 {
		t.Fatalf("events = %d, want 1", len(events.Items))
	}
	if events.Items[0].ActorID != "admin" || events.Items[0].EntityKind != "template" {
		t.Fatalf("unexpected event: %+v", events.Items[0])
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	tplID := createTemplate(t, srv)

	_, startBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/inspections", map[string]any{
		"template_id": tplID,
	}, adminHeaders)
	var started InspectionResponse
	_ = json.Unmarshal(startBody, &started)
	if res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v0/inspections/"+started.ID+"/submit", map[string]any{
		"findings": []map[string]any{
			{"finding_type": "NC", "severity": "medium", "description": "spill"},
		},
	}, adminHeaders); res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(body))
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/stats", nil, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d %s", res.StatusCode, string(data))
	}
	var stats struct {
		InspectionsByStatus map[string]int `json:"inspections_by_status"`
		AverageScore        *float64       `json:"average_score"`
		OpenTasks           int            `json:"open_tasks"`
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("unmarshal stats: %v", err)
	}
	if stats.InspectionsByStatus["scored"] != 1 {
		t.Fatalf("scored count: %+v", stats.InspectionsByStatus)
	}
	if stats.AverageScore == nil || *stats.AverageScore != 90 {
		t.Fatalf("avg = %v, want 90", stats.AverageScore)
	}
	if stats.OpenTasks != 1 {
		t.Fatalf("open tasks = %d, want 1", stats.OpenTasks)
	}
}

func TestFindingsFeedPaginationSeesEveryRow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	tplID := createTemplate(t, srv)

	_, startBody := doJSON(t, client, http.MethodPost, srv.URL+"/v0/inspections", map[string]any{
		"template_id":     tplID,
		"location":        "Bay 7",
		"inspection_date": "2025-03-02",
	}, adminHeaders)
	var started InspectionResponse
	_ = json.Unmarshal(startBody, &started)

	findings := make([]map[string]any, 0, 6)
	for i := 0; i < 6; i++ {
		findings = append(findings, map[string]any{
			"finding_type": "observation",
			"severity":     "low",
			"description":  "item",
		})
	}
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/inspections/"+started.ID+"/submit", map[string]any{
		"findings": findings,
	}, adminHeaders)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(data))
	}

	seen := map[int]bool{}
	cursor := ""
	pages := 0
	for {
		endpoint := srv.URL + "/v0/findings?limit=2"
		if cursor != "" {
			endpoint += "&cursor=" + url.QueryEscape(cursor)
		}
		feedRes, feedBody := doJSON(t, client, http.MethodGet, endpoint, nil, adminHeaders)
		if feedRes.StatusCode != http.StatusOK {
			t.Fatalf("findings page: %d %s", feedRes.StatusCode, string(feedBody))
		}
		var page paginatedFindingReports
		if err := json.Unmarshal(feedBody, &page); err != nil {
			t.Fatalf("unmarshal page: %v", err)
		}
		for _, item := range page.Items {
			if seen[item.Seq] {
				t.Fatalf("seq %d returned on more than one page", item.Seq)
			}
			seen[item.Seq] = true
		}
		pages++
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
		if pages > 10 {
			t.Fatalf("cursor never terminated")
		}
	}
	if len(seen) != 6 {
		t.Fatalf("pagination lost rows: saw %d of 6 findings", len(seen))
	}
	if pages < 3 {
		t.Fatalf("pages = %d, want at least 3 at limit 2", pages)
	}
}

func TestFindingsFeedRejectsMalformedCursor(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/findings?cursor=bogus", nil, adminHeaders)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed cursor: %d, want 400", res.StatusCode)
	}
}
