package render

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/yourusername/grafana-reporter/pkg/model"
	"go.uber.org/zap"
)

// ChromiumBackend renders pages with a headless Chromium driven over CDP
// via go-rod. The browser is launched lazily on first capture and torn
// down by Close.
type ChromiumBackend struct {
	opts       Options
	log        *zap.Logger
	browser    *rod.Browser
	instanceID string // unique id for this backend instance
	profileDir string // unique profile directory to avoid SingletonLock conflicts
}

// generateInstanceID creates a unique identifier for a backend instance.
func generateInstanceID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// NewChromiumBackend creates a new Chromium backend instance.
func NewChromiumBackend(opts Options, log *zap.Logger) *ChromiumBackend {
	id := generateInstanceID()
	return &ChromiumBackend{
		opts:       opts.withDefaults(),
		log:        log.With(zap.String("backend", "chromium"), zap.String("instance", id)),
		instanceID: id,
		profileDir: filepath.Join(os.TempDir(), ".chromium-profile-"+id),
	}
}

// findChromeBinary tries to locate a Chrome binary in common locations.
func (b *ChromiumBackend) findChromeBinary() string {
	candidatePaths := []string{
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/snap/bin/chromium",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	}

	for _, path := range candidatePaths {
		if info, err := os.Stat(path); err == nil && info.Mode()&0111 != 0 {
			return path
		}
	}
	return ""
}

// getBrowser initializes or returns the existing browser instance.
func (b *ChromiumBackend) getBrowser() (*rod.Browser, error) {
	if b.browser != nil {
		return b.browser, nil
	}

	os.MkdirAll(b.profileDir, 0o755)

	l := launcher.New()

	chromePath := b.opts.ChromiumPath
	if chromePath == "" {
		chromePath = b.findChromeBinary()
	}
	if chromePath != "" {
		l = l.Bin(chromePath)
		b.log.Debug("using chrome binary", zap.String("path", chromePath))
	}

	// Flags required for headless operation in containers.
	l = l.Set("no-sandbox")
	l = l.Set("disable-setuid-sandbox")
	l = l.Set("disable-dev-shm-usage")
	l = l.Set("disable-gpu")
	l = l.Set("no-first-run")
	l = l.Set("no-default-browser-check")
	l = l.Set("disable-breakpad")
	l = l.Set("user-data-dir", b.profileDir)
	l = l.Headless(true)

	if b.opts.SkipTLSVerify {
		l = l.Set("ignore-certificate-errors")
		b.log.Warn("tls certificate verification disabled for renderer")
	}

	launchURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	b.browser = browser
	b.log.Debug("chromium browser initialized")
	return browser, nil
}

// Capture implements Backend.
func (b *ChromiumBackend) Capture(ctx context.Context, target Page, format model.Format, width int, outPath string) error {
	browser, err := b.getBrowser()
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	// Auth headers must be in place before any navigation. Key/value
	// pairs, flat slice.
	kv := make([]string, 0, 2*len(target.Headers()))
	for k, v := range target.Headers() {
		kv = append(kv, k, v)
	}
	cleanup, err := page.SetExtraHeaders(kv)
	if err != nil {
		return fmt.Errorf("failed to set auth headers: %w", err)
	}
	defer cleanup()

	page = page.Context(ctx).Timeout(time.Duration(b.opts.TimeoutMS) * time.Millisecond)

	height, err := b.stabilize(page, target.PageURL(), width)
	if err != nil {
		return err
	}

	switch format {
	case model.FormatPNG:
		return b.captureScreenshot(page, outPath)
	case model.FormatPDF:
		return b.capturePDF(page, width, height+viewportMargin, outPath)
	case model.FormatCSV, model.FormatXLSX:
		return b.captureCSV(browser, page, outPath)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// stabilize loads the URL at a small seed viewport, measures the rendered
// grid height and reloads at the corrected viewport. The reload matters:
// some panels re-flow their chart layout only when the container size at
// initial paint already matches final size. Returns the measured height.
func (b *ChromiumBackend) stabilize(page *rod.Page, url string, width int) (int, error) {
	if err := b.setViewport(page, width, seedViewportHeight); err != nil {
		return 0, err
	}

	if err := b.navigate(page, url); err != nil {
		return 0, err
	}

	res, err := page.Eval(fmt.Sprintf(
		`() => { const el = document.querySelector(%q); return el ? el.offsetHeight : -1; }`, gridSelector))
	if err != nil {
		return 0, fmt.Errorf("failed to measure grid height: %w", err)
	}
	height := res.Value.Int()
	if height < 0 {
		return 0, ErrLayoutNotFound
	}
	b.log.Debug("measured grid height", zap.Int("height", height))

	if err := b.setViewport(page, width, height+viewportMargin); err != nil {
		return 0, err
	}
	if err := b.navigate(page, url); err != nil {
		return 0, err
	}

	return height, nil
}

func (b *ChromiumBackend) setViewport(page *rod.Page, width, height int) error {
	return page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  width,
		Height: height,
	})
}

func (b *ChromiumBackend) navigate(page *rod.Page, url string) error {
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", err)
	}
	// Let asynchronous panel data-loading settle. A page still busy at
	// the deadline is captured as-is, but not silently.
	if err := page.WaitIdle(time.Duration(b.opts.TimeoutMS) * time.Millisecond); err != nil {
		b.log.Warn("page did not reach network idle before capture",
			zap.String("url", url), zap.Error(err))
	}
	return nil
}

func (b *ChromiumBackend) captureScreenshot(page *rod.Page, outPath string) error {
	data, err := page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return os.WriteFile(outPath, data, 0o644)
}

// capturePDF prints the stabilized page as a single document page whose
// physical size is derived from the viewport pixel dimensions.
func (b *ChromiumBackend) capturePDF(page *rod.Page, widthPx, heightPx int, outPath string) error {
	widthIn := float64(widthPx) / b.opts.PixelsPerMM / mmPerInch
	heightIn := float64(heightPx) / b.opts.PixelsPerMM / mmPerInch

	f := func(x float64) *float64 { return &x }
	stream, err := page.PDF(&proto.PagePrintToPDF{
		PrintBackground: true,
		PaperWidth:      f(widthIn),
		PaperHeight:     f(heightIn),
		MarginTop:       f(0),
		MarginBottom:    f(0),
		MarginLeft:      f(0),
		MarginRight:     f(0),
	})
	if err != nil {
		return fmt.Errorf("failed to generate pdf: %w", err)
	}

	pdf, err := io.ReadAll(stream)
	if err != nil {
		return fmt.Errorf("failed to read pdf stream: %w", err)
	}
	if len(pdf) < 5 || string(pdf[:5]) != "%PDF-" {
		return fmt.Errorf("output is not a pdf (got %d bytes)", len(pdf))
	}
	return os.WriteFile(outPath, pdf, 0o644)
}

// captureCSV triggers the panel's download control and saves the browser
// download to outPath.
func (b *ChromiumBackend) captureCSV(browser *rod.Browser, page *rod.Page, outPath string) error {
	// The page has settled by now; look up the control without retrying
	// so a missing control is distinguishable from a dying page.
	el, err := page.Sleeper(rod.NotFoundSleeper).ElementR("span", b.opts.CSVLabel)
	if err != nil {
		lookupErr := exportLookupError(err)
		if errors.Is(lookupErr, ErrNoExportControl) {
			b.log.Warn("csv download control not found", zap.String("label", b.opts.CSVLabel))
		}
		return lookupErr
	}

	dir := filepath.Dir(outPath)
	wait := browser.WaitDownload(dir)

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click download control: %w", err)
	}

	info := wait()
	if info == nil {
		return fmt.Errorf("download never started")
	}

	if err := os.Rename(filepath.Join(dir, info.GUID), outPath); err != nil {
		return fmt.Errorf("failed to move downloaded export: %w", err)
	}
	return nil
}

// exportLookupError classifies a download-control lookup failure: a
// control genuinely absent from the page is the soft ErrNoExportControl;
// anything else (timeout, cancelled context, dead page) is a hard error.
func exportLookupError(err error) error {
	var notFound *rod.ElementNotFoundError
	if errors.As(err, &notFound) {
		return ErrNoExportControl
	}
	return fmt.Errorf("locate csv download control: %w", err)
}

// Close closes the browser instance and removes its profile directory.
func (b *ChromiumBackend) Close() error {
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	os.RemoveAll(b.profileDir)
	return err
}

// Name returns the backend name.
func (b *ChromiumBackend) Name() string {
	return "chromium"
}
