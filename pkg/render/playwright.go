package render

import (
	"context"
	"fmt"
	"os"

	"github.com/playwright-community/playwright-go"
	"github.com/yourusername/grafana-reporter/pkg/model"
	"go.uber.org/zap"
)

// PlaywrightBackend renders pages through the Playwright driver. Requires
// the Node.js driver to be available; the chromium backend is the default
// where that is not the case.
type PlaywrightBackend struct {
	opts    Options
	log     *zap.Logger
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewPlaywrightBackend creates a new Playwright backend instance.
func NewPlaywrightBackend(opts Options, log *zap.Logger) *PlaywrightBackend {
	return &PlaywrightBackend{
		opts: opts.withDefaults(),
		log:  log.With(zap.String("backend", "playwright")),
	}
}

// getBrowser initializes or returns the existing browser instance.
func (b *PlaywrightBackend) getBrowser() (playwright.Browser, error) {
	if b.browser != nil {
		return b.browser, nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	b.pw = pw

	launchOptions := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-dev-shm-usage",
			"--disable-gpu",
		},
	}
	if b.opts.ChromiumPath != "" {
		launchOptions.ExecutablePath = playwright.String(b.opts.ChromiumPath)
	}
	if b.opts.SkipTLSVerify {
		launchOptions.Args = append(launchOptions.Args, "--ignore-certificate-errors")
	}

	browser, err := pw.Chromium.Launch(launchOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	b.browser = browser
	b.log.Debug("playwright browser initialized")
	return browser, nil
}

// Capture implements Backend.
func (b *PlaywrightBackend) Capture(ctx context.Context, target Page, format model.Format, width int, outPath string) error {
	browser, err := b.getBrowser()
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: width, Height: seedViewportHeight},
		ExtraHttpHeaders:  target.Headers(),
		AcceptDownloads:   playwright.Bool(true),
		IgnoreHttpsErrors: playwright.Bool(b.opts.SkipTLSVerify),
	})
	if err != nil {
		return fmt.Errorf("failed to create browser context: %w", err)
	}
	defer browserCtx.Close()

	page, err := browserCtx.NewPage()
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	page.SetDefaultTimeout(float64(b.opts.TimeoutMS))

	height, err := b.stabilize(page, target.PageURL(), width)
	if err != nil {
		return err
	}

	switch format {
	case model.FormatPNG:
		data, err := page.Screenshot(playwright.PageScreenshotOptions{
			FullPage: playwright.Bool(true),
			Type:     playwright.ScreenshotTypePng,
		})
		if err != nil {
			return fmt.Errorf("failed to capture screenshot: %w", err)
		}
		return os.WriteFile(outPath, data, 0o644)

	case model.FormatPDF:
		widthMM := float64(width) / b.opts.PixelsPerMM
		heightMM := float64(height+viewportMargin) / b.opts.PixelsPerMM
		data, err := page.PDF(playwright.PagePdfOptions{
			PrintBackground: playwright.Bool(true),
			Width:           playwright.String(fmt.Sprintf("%.0fmm", widthMM)),
			Height:          playwright.String(fmt.Sprintf("%.0fmm", heightMM)),
		})
		if err != nil {
			return fmt.Errorf("failed to generate pdf: %w", err)
		}
		return os.WriteFile(outPath, data, 0o644)

	case model.FormatCSV, model.FormatXLSX:
		return b.captureCSV(page, outPath)

	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// stabilize navigates at the seed viewport, measures the grid height and
// reloads at the corrected viewport so panels paint at their final size.
func (b *PlaywrightBackend) stabilize(page playwright.Page, url string, width int) (int, error) {
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return 0, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}

	res, err := page.Evaluate(fmt.Sprintf(
		`() => { const el = document.querySelector(%q); return el ? el.offsetHeight : -1; }`, gridSelector))
	if err != nil {
		return 0, fmt.Errorf("failed to measure grid height: %w", err)
	}
	height := toInt(res)
	if height < 0 {
		return 0, ErrLayoutNotFound
	}
	b.log.Debug("measured grid height", zap.Int("height", height))

	if err := page.SetViewportSize(width, height+viewportMargin); err != nil {
		return 0, fmt.Errorf("failed to resize viewport: %w", err)
	}
	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return 0, fmt.Errorf("failed to re-navigate to %s: %w", url, err)
	}

	return height, nil
}

// captureCSV clicks the panel's download control and awaits the download.
func (b *PlaywrightBackend) captureCSV(page playwright.Page, outPath string) error {
	locator := page.Locator(fmt.Sprintf(`span:text(%q)`, b.opts.CSVLabel))
	count, err := locator.Count()
	if err != nil {
		return fmt.Errorf("locate csv download control: %w", err)
	}
	if count == 0 {
		b.log.Warn("csv download control not found", zap.String("label", b.opts.CSVLabel))
		return ErrNoExportControl
	}

	download, err := page.ExpectDownload(func() error {
		return locator.First().Click()
	})
	if err != nil {
		return fmt.Errorf("failed to await download: %w", err)
	}

	if err := download.SaveAs(outPath); err != nil {
		return fmt.Errorf("failed to save downloaded export: %w", err)
	}
	return nil
}

// toInt normalizes the numeric types Evaluate may return.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return -1
	}
}

// Close closes the browser and stops the Playwright driver.
func (b *PlaywrightBackend) Close() error {
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			return err
		}
		b.browser = nil
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			return err
		}
		b.pw = nil
	}
	return nil
}

// Name returns the backend name.
func (b *PlaywrightBackend) Name() string {
	return "playwright"
}
