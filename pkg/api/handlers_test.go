package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/yourusername/grafana-reporter/pkg/grafana"
	"github.com/yourusername/grafana-reporter/pkg/job"
	"github.com/yourusername/grafana-reporter/pkg/model"
	"github.com/yourusername/grafana-reporter/pkg/render"
	"go.uber.org/zap"
)

type stubBackend struct{}

func (stubBackend) Capture(ctx context.Context, page render.Page, format model.Format, width int, outPath string) error {
	return os.WriteFile(outPath, []byte("capture"), 0o644)
}
func (stubBackend) Close() error { return nil }
func (stubBackend) Name() string { return "stub" }

type stubLister struct {
	runs []*model.Run
}

func (s *stubLister) ListRuns(jobName string, limit int) ([]*model.Run, error) {
	return s.runs, nil
}

func newTestHandler(t *testing.T, lister RunLister) *Handler {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/user", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"login":"reporter"}`))
	})
	mux.HandleFunc("/api/dashboards/uid/abc123", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"dashboard": {"title": "Overview", "panels": [{"id": 4, "title": "CPU"}]},
			"meta": {"url": "/d/abc123/overview", "slug": "overview"}
		}`))
	})
	mux.HandleFunc("/api/short-urls", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"uid": "short1"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := grafana.NewClient(context.Background(), srv.URL, "token", zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	deps := job.Deps{
		Client:     client,
		OutputDir:  t.TempDir(),
		NewBackend: func() (render.Backend, error) { return stubBackend{}, nil },
		Log:        zap.NewNop(),
	}
	return NewHandler(deps, lister, zap.NewNop())
}

func TestRenderEndpointSynchronous(t *testing.T) {
	h := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/render",
		strings.NewReader(`{"dashboard": "abc123", "format": "png"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var artifact model.Artifact
	if err := json.NewDecoder(rec.Body).Decode(&artifact); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if artifact.Title != "Overview" {
		t.Errorf("Title = %q", artifact.Title)
	}
	if artifact.Format != model.FormatPNG {
		t.Errorf("Format = %q", artifact.Format)
	}
	if !strings.HasSuffix(artifact.ViewURL, "/goto/short1") {
		t.Errorf("ViewURL = %q", artifact.ViewURL)
	}
}

func TestRenderEndpointRejectsBadRequests(t *testing.T) {
	h := newTestHandler(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"bad format", `{"dashboard": "abc123", "format": "gif"}`},
		{"missing dashboard", `{"format": "png"}`},
		{"csv without panel", `{"dashboard": "abc123", "format": "csv"}`},
		{"unknown notifier", `{"dashboard": "abc123", "notifier": "pager", "receivers": ["x"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/render", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestRenderEndpointMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/render", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestRunsEndpoint(t *testing.T) {
	lister := &stubLister{runs: []*model.Run{{ID: 1, JobName: "hourly", Status: model.RunStatusCompleted}}}
	h := newTestHandler(t, lister)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?job=hourly&limit=5", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Runs []*model.Run `json:"runs"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Runs) != 1 || payload.Runs[0].JobName != "hourly" {
		t.Errorf("runs = %+v", payload.Runs)
	}
}

func TestRunsEndpointWithoutStore(t *testing.T) {
	h := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestFilesMountServesOutputDir(t *testing.T) {
	h := newTestHandler(t, nil)
	if err := os.WriteFile(h.deps.OutputDir+"/report.png", []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/files/report.png", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "data" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
