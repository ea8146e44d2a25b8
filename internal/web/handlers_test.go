package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hpungsan/bagsplit/internal/config"
	"github.com/hpungsan/bagsplit/internal/db"
	"github.com/hpungsan/bagsplit/internal/ops"
)

func setupTest(t *testing.T) *Handlers {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	h, err := newHandlers(database, config.DefaultConfig(), "test")
	if err != nil {
		t.Fatalf("newHandlers: %v", err)
	}
	return h
}

func seedRuns(t *testing.T, h *Handlers) {
	t.Helper()
	runs := []*db.Run{
		{ID: "01AAA", Operation: db.OpSplitCheck, Target: "/bags/photos", OK: true, SubPackages: 3, Entries: 12, StartedAt: 1700000000, FinishedAt: 1700000004},
		{ID: "01BBB", Operation: db.OpUnsplit, Target: "/bags/photos_split", Destination: "/bags/photos_merged", OK: true, SubPackages: 3, Entries: 12, StartedAt: 1700000100, FinishedAt: 1700000110},
		{ID: "01CCC", Operation: db.OpUnsplit, Target: "/bags/maps_split", OK: false, ErrorCode: "METADATA_MISMATCH", Message: "bag metadata mismatch", StartedAt: 1700000200, FinishedAt: 1700000200},
	}
	for _, r := range runs {
		if err := db.InsertRun(h.db, r); err != nil {
			t.Fatalf("InsertRun: %v", err)
		}
	}
}

func get(h http.HandlerFunc, target string, header map[string]string, pathID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	if pathID != "" {
		req.SetPathValue("id", pathID)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

// --- HandleList ---

func TestHandleList_Default(t *testing.T) {
	h := setupTest(t)
	seedRuns(t, h)

	rec := get(h.HandleList, "/runs", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"/bags/photos_split", "/bags/maps_split", "METADATA_MISMATCH", `href="/runs/01AAA"`} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response", want)
		}
	}
}

func TestHandleList_OperationFilter(t *testing.T) {
	h := setupTest(t)
	seedRuns(t, h)

	rec := get(h.HandleList, "/runs?operation=splitcheck", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "/runs/01AAA") {
		t.Error("expected the splitcheck run")
	}
	if strings.Contains(body, "/runs/01BBB") {
		t.Error("did not expect unsplit runs in filtered results")
	}
}

func TestHandleList_Empty(t *testing.T) {
	h := setupTest(t)

	rec := get(h.HandleList, "/runs", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No runs recorded yet") {
		t.Error("expected empty-state message")
	}
}

func TestHandleList_JSON(t *testing.T) {
	h := setupTest(t)
	seedRuns(t, h)

	rec := get(h.HandleList, "/runs?limit=2", map[string]string{"Accept": "application/json"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out ops.HistoryOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Runs) != 2 || out.Runs[0].ID != "01CCC" {
		t.Errorf("runs = %+v, want two newest first", out.Runs)
	}
	if !out.Pagination.HasMore || out.Pagination.Total != 3 {
		t.Errorf("pagination = %+v", out.Pagination)
	}
}

func TestHandleList_InvalidOperation(t *testing.T) {
	h := setupTest(t)

	rec := get(h.HandleList, "/runs?operation=bogus", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_REQUEST") {
		t.Error("expected error code on the error page")
	}
}

func TestHandleList_HistoryDisabled(t *testing.T) {
	h, err := newHandlers(nil, config.DefaultConfig(), "test")
	if err != nil {
		t.Fatalf("newHandlers: %v", err)
	}

	rec := get(h.HandleList, "/runs", map[string]string{"Accept": "application/json"}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// --- HandleDetail ---

func TestHandleDetail_Found(t *testing.T) {
	h := setupTest(t)
	seedRuns(t, h)

	rec := get(h.HandleDetail, "/runs/01CCC", nil, "01CCC")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"<h1>unsplit</h1>", "METADATA_MISMATCH", "bag metadata mismatch", "/bags/maps_split"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response", want)
		}
	}
}

func TestHandleDetail_JSON(t *testing.T) {
	h := setupTest(t)
	seedRuns(t, h)

	rec := get(h.HandleDetail, "/runs/01BBB", map[string]string{"Accept": "application/json"}, "01BBB")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var run db.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if run.Destination != "/bags/photos_merged" {
		t.Errorf("Destination = %q", run.Destination)
	}
}

func TestHandleDetail_NotFound(t *testing.T) {
	h := setupTest(t)

	rec := get(h.HandleDetail, "/runs/nope", map[string]string{"Accept": "application/json"}, "nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", body.Error.Code)
	}
}

// --- server ---

func TestServer_RoutesAndHeaders(t *testing.T) {
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	defer database.Close()

	srv, err := NewServer(database, config.DefaultConfig(), "test", "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/runs" {
		t.Errorf("GET / = %d %q, want redirect to /runs", rec.Code, rec.Header().Get("Location"))
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing security headers")
	}

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/static/style.css", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /static/style.css = %d, want 200", rec.Code)
	}
}

func TestFormatDuration(t *testing.T) {
	if got := formatDuration(100, 165); got != "1m5s" {
		t.Errorf("formatDuration = %q, want 1m5s", got)
	}
	if got := formatDuration(100, 90); got != "-" {
		t.Errorf("formatDuration(backwards) = %q, want -", got)
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 7},
		{"limit=3", 3},
		{"limit=abc", 7},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/runs?"+tt.query, nil)
		if got := parseIntParam(req, "limit", 7); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
