package render

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourusername/grafana-reporter/pkg/model"
	"go.uber.org/zap"
)

// Page is the slice of a resolved view target the render pipeline needs.
type Page interface {
	PageTitle() string
	PageURL() string
	Headers() map[string]string
	IsPanel() bool
}

// ErrLayoutNotFound is returned when the dashboard grid container never
// appears on the page, e.g. for a server-rendered error page. Fatal for
// the invocation.
var ErrLayoutNotFound = errors.New("dashboard layout container not found")

// ErrNoExportControl is returned when a tabular capture finds no download
// control on the panel. Soft: the job produces no file but does not abort
// the process.
var ErrNoExportControl = errors.New("csv download control not found")

// Options configures a rendering backend.
type Options struct {
	Backend       string  `yaml:"backend"`         // "chromium" (default) or "playwright"
	TimeoutMS     int     `yaml:"timeout_ms"`      // bound on navigation and network-idle waits
	PixelsPerMM   float64 `yaml:"pixels_per_mm"`   // calibration for PDF page sizing, not a physical constant
	CSVLabel      string  `yaml:"csv_label"`       // visible label of the in-page CSV download control
	ChromiumPath  string  `yaml:"chromium_path"`   // optional explicit browser binary
	SkipTLSVerify bool    `yaml:"skip_tls_verify"` // skip certificate verification inside the browser
}

const (
	defaultTimeoutMS   = 60000
	defaultPixelsPerMM = 3.77
	defaultCSVLabel    = "Download CSV"

	// seedViewportHeight is the initial viewport height used to start page
	// load; the viewport is resized once the grid height is measured.
	seedViewportHeight = 400
	// viewportMargin is added below the measured grid height to avoid
	// clipping from layout rounding.
	viewportMargin = 50

	mmPerInch = 25.4

	gridSelector = ".react-grid-layout"
)

func (o Options) withDefaults() Options {
	if o.TimeoutMS == 0 {
		o.TimeoutMS = defaultTimeoutMS
	}
	if o.PixelsPerMM == 0 {
		o.PixelsPerMM = defaultPixelsPerMM
	}
	if o.CSVLabel == "" {
		o.CSVLabel = defaultCSVLabel
	}
	return o
}

// Backend drives a headless browser through the stabilize-then-capture
// sequence. Implementations own at most one browser process; Close must
// release it on every exit path.
type Backend interface {
	// Capture stabilizes the page at the given viewport width and writes
	// the capture in the given format to outPath.
	Capture(ctx context.Context, page Page, format model.Format, width int, outPath string) error

	// Close cleans up resources used by the backend.
	Close() error

	// Name returns the name of the backend.
	Name() string
}

// NewBackend creates a rendering backend for the configured kind.
func NewBackend(opts Options, log *zap.Logger) (Backend, error) {
	switch opts.Backend {
	case "", "chromium":
		return NewChromiumBackend(opts, log), nil
	case "playwright":
		return NewPlaywrightBackend(opts, log), nil
	default:
		return nil, fmt.Errorf("unsupported render backend %q (supported: chromium, playwright)", opts.Backend)
	}
}
