// Package job composes the render pipeline into a schedulable unit of
// work: resolve the view target, stabilize and capture it in a headless
// browser, optionally re-encode and archive, then hand the artifact to a
// notifier.
package job

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourusername/grafana-reporter/pkg/grafana"
	"github.com/yourusername/grafana-reporter/pkg/model"
	"github.com/yourusername/grafana-reporter/pkg/notify"
	"github.com/yourusername/grafana-reporter/pkg/render"
	"go.uber.org/zap"
)

const (
	defaultWidth   = 792
	defaultTimeout = 10 * time.Minute
)

// Uploader archives a local file and returns a resolvable URL.
type Uploader interface {
	Upload(ctx context.Context, filePath string) (string, error)
}

// Recorder persists run history.
type Recorder interface {
	CreateRun(run *model.Run) error
	UpdateRun(run *model.Run) error
}

// Spec describes one render job as loaded from configuration or an HTTP
// request.
type Spec struct {
	Name      string
	Dashboard string
	Panel     string
	Query     string
	Format    model.Format
	Width     int
	Cron      string
	Notifier  string
	Receivers []string
}

// Deps are the collaborators a job uses but does not own.
type Deps struct {
	Client    *grafana.Client
	Notifiers map[string]notify.Notifier
	Uploader  Uploader // nil disables archival
	Recorder  Recorder // nil disables run history
	OutputDir string
	// FileBaseURL, when set and no Uploader is configured, is the external
	// base under which the HTTP /files mount is reachable; artifact URLs
	// become <FileBaseURL>/files/<name>.
	FileBaseURL string
	// NewBackend builds the browser backend. One backend is created and
	// closed per job execution; jobs share no browser state.
	NewBackend func() (render.Backend, error)
	Timeout    time.Duration
	Log        *zap.Logger
}

// Job is a single configured render job.
type Job struct {
	spec     Spec
	deps     Deps
	notifier notify.Notifier // nil for render-and-return jobs
	log      *zap.Logger
}

// New validates a spec and constructs a Job. Configuration errors surface
// here, before the job is ever scheduled: unsupported formats or notifier
// kinds, missing receivers, and panel-only formats on a bare dashboard.
func New(spec Spec, deps Deps) (*Job, error) {
	if spec.Dashboard == "" {
		return nil, fmt.Errorf("job %s: dashboard uid is required", spec.Name)
	}
	if spec.Name == "" {
		spec.Name = spec.Dashboard
	}
	if spec.Width <= 0 {
		spec.Width = defaultWidth
	}
	format, err := model.ParseFormat(string(spec.Format))
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", spec.Name, err)
	}
	spec.Format = format
	if spec.Format.PanelOnly() && spec.Panel == "" {
		return nil, fmt.Errorf("job %s: format %s requires a panel target", spec.Name, spec.Format)
	}
	if deps.Timeout == 0 {
		deps.Timeout = defaultTimeout
	}

	j := &Job{
		spec: spec,
		deps: deps,
		log:  deps.Log.With(zap.String("job", spec.Name)),
	}

	if spec.Notifier != "" {
		notifier, ok := deps.Notifiers[spec.Notifier]
		if !ok {
			return nil, fmt.Errorf("job %s: notifier %q is not configured", spec.Name, spec.Notifier)
		}
		if len(spec.Receivers) == 0 {
			return nil, fmt.Errorf("job %s: notifier %q has no receivers", spec.Name, spec.Notifier)
		}
		j.notifier = notifier
	}

	return j, nil
}

// Name returns the job name.
func (j *Job) Name() string { return j.spec.Name }

// Cron returns the job's cron expression, empty for on-demand jobs.
func (j *Job) Cron() string { return j.spec.Cron }

// Render runs the full pipeline once and blocks until an artifact or a
// failure is available. No step is retried.
func (j *Job) Render(ctx context.Context) (*model.Artifact, error) {
	// Resolve the view target fresh from the server.
	dashboard, err := j.deps.Client.Dashboard(ctx, j.spec.Dashboard)
	if err != nil {
		return nil, err
	}
	dashboard = dashboard.WithQuery(j.spec.Query)

	var page grafana.Page = dashboard
	if j.spec.Panel != "" {
		panel, err := dashboard.Panel(j.spec.Panel)
		if err != nil {
			return nil, err
		}
		page = panel
	}

	// Panel-only formats are rejected before a browser is ever launched.
	if j.spec.Format.PanelOnly() && !page.IsPanel() {
		return nil, fmt.Errorf("format %s requires a panel target, got dashboard %s", j.spec.Format, j.spec.Dashboard)
	}

	artifact, err := j.capture(ctx, page)
	if err != nil {
		return nil, err
	}

	// Archival is soft: a failed upload leaves the remote URL empty.
	if j.deps.Uploader != nil {
		fileURL, err := j.deps.Uploader.Upload(ctx, artifact.FilePath)
		if err != nil {
			j.log.Warn("artifact upload failed", zap.Error(err))
		} else {
			artifact.FileURL = fileURL
		}
	} else if j.deps.FileBaseURL != "" {
		// The /files mount serves the output directory flat, so the URL
		// carries only the file name regardless of where OutputDir lives.
		artifact.FileURL = strings.TrimSuffix(j.deps.FileBaseURL, "/") + "/files/" + filepath.Base(artifact.FilePath)
	}

	return artifact, nil
}

// capture opens a browser backend, stabilizes the page and captures it in
// the requested format, re-encoding tabular exports when asked to. The
// backend is closed on every exit path.
func (j *Job) capture(ctx context.Context, page grafana.Page) (*model.Artifact, error) {
	backend, err := j.deps.NewBackend()
	if err != nil {
		return nil, fmt.Errorf("create render backend: %w", err)
	}
	defer backend.Close()

	// Spreadsheet requests capture the delimited-text export first.
	captureFormat := j.spec.Format
	if captureFormat == model.FormatXLSX {
		captureFormat = model.FormatCSV
	}
	capturePath := render.OutputPath(j.deps.OutputDir, page.PageTitle(), captureFormat)

	if err := backend.Capture(ctx, page, captureFormat, j.spec.Width, capturePath); err != nil {
		return nil, fmt.Errorf("capture %s: %w", captureFormat, err)
	}

	finalPath, finalFormat := capturePath, captureFormat
	if j.spec.Format == model.FormatXLSX {
		xlsxPath := strings.TrimSuffix(capturePath, ".csv") + ".xlsx"
		if err := render.ReencodeXLSX(capturePath, xlsxPath); err != nil {
			// Soft failure: report the delimited-text artifact instead.
			j.log.Warn("spreadsheet re-encode failed, falling back to csv", zap.Error(err))
		} else {
			finalPath, finalFormat = xlsxPath, model.FormatXLSX
		}
	}

	// The short URL must be resolved before the artifact is assembled;
	// the long authenticated URL is the fallback.
	viewURL := page.PageURL()
	if short, err := page.ShortURL(ctx); err != nil {
		j.log.Warn("short-url creation failed, using long url", zap.Error(err))
	} else {
		viewURL = short
	}

	return model.NewArtifact(page.PageTitle(), finalFormat, finalPath, "", viewURL, page.Annotation())
}

// Run executes the job as a scheduler callback: render, then notify when
// a notifier is configured. Errors and panics are contained here; nothing
// propagates into the scheduling loop.
func (j *Job) Run() {
	defer func() {
		if r := recover(); r != nil {
			j.log.Error("job panicked", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), j.deps.Timeout)
	defer cancel()

	run := &model.Run{
		JobName:   j.spec.Name,
		StartedAt: time.Now(),
		Status:    model.RunStatusRunning,
	}
	j.recordCreate(run)

	artifact, err := j.Render(ctx)

	now := time.Now()
	run.FinishedAt = &now
	if err != nil {
		run.Status = model.RunStatusFailed
		run.ErrorText = err.Error()
		j.recordUpdate(run)
		j.log.Error("render failed", zap.Error(err))
		return
	}

	run.Status = model.RunStatusCompleted
	run.ArtifactPath = artifact.FilePath
	run.FileURL = artifact.FileURL
	run.Bytes = artifact.Bytes
	j.recordUpdate(run)
	j.log.Info("render completed",
		zap.String("path", artifact.FilePath),
		zap.String("format", string(artifact.Format)),
		zap.Int64("bytes", artifact.Bytes))

	if j.notifier == nil {
		return
	}

	// Delivery is dispatched without the job waiting on it; failures are
	// captured here rather than discarded mid-flight.
	go func() {
		sendCtx, sendCancel := context.WithTimeout(context.Background(), time.Minute)
		defer sendCancel()

		if err := j.notifier.Send(sendCtx, artifact, j.spec.Receivers); err != nil {
			j.log.Error("notification delivery failed",
				zap.String("notifier", j.notifier.Name()), zap.Error(err))
			return
		}
		run.Notified = true
		j.recordUpdate(run)
		j.log.Info("notification sent",
			zap.String("notifier", j.notifier.Name()),
			zap.Int("receivers", len(j.spec.Receivers)))
	}()
}

func (j *Job) recordCreate(run *model.Run) {
	if j.deps.Recorder == nil {
		return
	}
	if err := j.deps.Recorder.CreateRun(run); err != nil {
		j.log.Warn("failed to record run", zap.Error(err))
	}
}

func (j *Job) recordUpdate(run *model.Run) {
	if j.deps.Recorder == nil || run.ID == 0 {
		return
	}
	if err := j.deps.Recorder.UpdateRun(run); err != nil {
		j.log.Warn("failed to update run record", zap.Error(err))
	}
}
