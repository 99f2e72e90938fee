// Package api exposes the render pipeline over HTTP: on-demand renders,
// run history, health, and the rendered-file mount.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/yourusername/grafana-reporter/pkg/job"
	"github.com/yourusername/grafana-reporter/pkg/model"
	"go.uber.org/zap"
)

// RunLister reads run history. Satisfied by the store; nil disables the
// runs endpoint.
type RunLister interface {
	ListRuns(jobName string, limit int) ([]*model.Run, error)
}

// Handler handles HTTP API requests.
type Handler struct {
	deps job.Deps
	runs RunLister
	mux  *http.ServeMux
	log  *zap.Logger
}

// NewHandler creates the API handler. deps carries the same collaborators
// scheduled jobs use, so an HTTP render behaves exactly like a cron one.
func NewHandler(deps job.Deps, runs RunLister, log *zap.Logger) *Handler {
	h := &Handler{
		deps: deps,
		runs: runs,
		mux:  http.NewServeMux(),
		log:  log,
	}

	h.mux.HandleFunc("/api/render", h.handleRender)
	h.mux.HandleFunc("/api/runs", h.handleRuns)
	h.mux.HandleFunc("/api/health", h.handleHealth)
	h.mux.Handle("/files/", http.StripPrefix("/files/", http.FileServer(http.Dir(deps.OutputDir))))

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// renderRequest is the POST /api/render payload.
type renderRequest struct {
	Dashboard string   `json:"dashboard"`
	Panel     string   `json:"panel"`
	Query     string   `json:"query"`
	Format    string   `json:"format"`
	Width     int      `json:"width"`
	Notifier  string   `json:"notifier"`
	Receivers []string `json:"receivers"`
}

// handleRender handles POST /api/render. Without a notifier the render
// runs synchronously and the artifact is returned; with one, the job is
// dispatched and acknowledged immediately.
func (h *Handler) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	format, err := model.ParseFormat(req.Format)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	j, err := job.New(job.Spec{
		Name:      "api-" + req.Dashboard,
		Dashboard: req.Dashboard,
		Panel:     req.Panel,
		Query:     req.Query,
		Format:    format,
		Width:     req.Width,
		Notifier:  req.Notifier,
		Receivers: req.Receivers,
	}, h.deps)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Notifier != "" {
		go j.Run()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
		return
	}

	artifact, err := j.Render(r.Context())
	if err != nil {
		h.log.Error("on-demand render failed",
			zap.String("dashboard", req.Dashboard), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, artifact)
}

// handleRuns handles GET /api/runs with optional job and limit params.
func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.runs == nil {
		http.Error(w, "run history is not enabled", http.StatusNotFound)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.runs.ListRuns(r.URL.Query().Get("job"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]any{"runs": runs})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
