package web

import (
	"database/sql"
	"html/template"
	"net/http"
	"strconv"

	"github.com/hpungsan/bagsplit/internal/config"
	"github.com/hpungsan/bagsplit/internal/db"
	"github.com/hpungsan/bagsplit/internal/ops"
	"github.com/hpungsan/bagsplit/internal/report"
)

// Handlers contains HTTP route handlers for the run history browser.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	renderer *Renderer
}

// ListPageData is the template data for the run list page.
type ListPageData struct {
	PageData
	Runs       []db.Run
	Pagination ops.Pagination
	Operation  string
}

// DetailPageData is the template data for the run detail page.
type DetailPageData struct {
	PageData
	Run     *db.Run
	Summary template.HTML
}

// HandleList handles GET /runs, optionally filtered by ?operation=.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	operation := r.URL.Query().Get("operation")
	result, err := ops.History(h.db, ops.HistoryInput{
		Operation: operation,
		Limit:     parseIntParam(r, "limit", ops.DefaultHistoryLimit),
		Offset:    parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}
	h.renderer.renderPage(w, "list", ListPageData{
		PageData:   PageData{Title: "Runs", Version: h.renderer.version},
		Runs:       result.Runs,
		Pagination: result.Pagination,
		Operation:  operation,
	})
}

// HandleDetail handles GET /runs/{id}.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	run, err := ops.RunDetail(h.db, r.PathValue("id"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, run)
		return
	}
	h.renderer.renderPage(w, "detail", DetailPageData{
		PageData: PageData{Title: run.Operation + " " + run.ID, Version: h.renderer.version},
		Run:      run,
		Summary:  h.renderer.renderMarkdown(runSummary(run).Markdown()),
	})
}

// runSummary lays out a run the way the operation reports do.
func runSummary(run *db.Run) *report.Document {
	status := "pass"
	if !run.OK {
		status = "fail"
	}
	d := report.New(run.Operation).
		Section("Run").
		Field("ID", run.ID).
		Field("Status", status).
		Field("Target", run.Target)
	if run.Destination != "" {
		d.Field("Destination", run.Destination)
	}
	d.Field("Sub-bags", run.SubPackages).
		Field("Payload entries", run.Entries).
		Field("Started", formatTime(run.StartedAt)).
		Field("Duration", formatDuration(run.StartedAt, run.FinishedAt))
	if run.ErrorCode != "" {
		d.Section("Error").Field("Code", run.ErrorCode).Paragraph(run.Message)
	}
	return d
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
