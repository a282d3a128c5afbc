package fetcher

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultExportSteps open the dashboard's Export menu and pick the formatted
// Excel download.
var DefaultExportSteps = []string{
	`//button[contains(normalize-space(.), "Export")]`,
	`//button[contains(normalize-space(.), "Formatted Excel")]`,
}

// DashboardOptions configures the headless dashboard exporter.
type DashboardOptions struct {
	// ExportSteps are clicked in order; the last one starts the download.
	// Each is a CSS selector or an XPath expression.
	ExportSteps []string
	Wait        time.Duration // upper bound on page load + export + download
	Headless    bool
	UserAgent   string
}

// DashboardExporter drives the BI dashboard in a headless Chrome, clicks
// through the export steps and waits for the browser to report the download finished.
// Refs use the "dashboard" scheme: dashboard://host/path maps to
// https://host/path.
type DashboardExporter struct {
	opts DashboardOptions
}

// NewDashboardExporter creates a DashboardExporter.
func NewDashboardExporter(opts DashboardOptions) *DashboardExporter {
	if opts.Wait == 0 {
		opts.Wait = 3 * time.Minute
	}
	if len(opts.ExportSteps) == 0 {
		opts.ExportSteps = DefaultExportSteps
	}
	return &DashboardExporter{opts: opts}
}

// exportActions waits for and clicks each step in order.
func exportActions(steps []string) []chromedp.Action {
	actions := make([]chromedp.Action, 0, 2*len(steps))
	for _, sel := range steps {
		actions = append(actions,
			chromedp.WaitVisible(sel, chromedp.BySearch),
			chromedp.Click(sel, chromedp.BySearch, chromedp.NodeVisible),
		)
	}
	return actions
}

// dashboardURL rewrites a dashboard:// ref into the page URL to open.
func dashboardURL(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", eris.Wrap(err, "parse dashboard ref")
	}
	switch strings.ToLower(u.Scheme) {
	case "dashboard":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", eris.Errorf("unsupported dashboard scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", eris.New("dashboard ref has no host")
	}
	return u.String(), nil
}

// Fetch exports the report behind ref and moves the downloaded file to dest.
func (d *DashboardExporter) Fetch(ctx context.Context, ref string, dest string) (int64, error) {
	pageURL, err := dashboardURL(ref)
	if err != nil {
		return 0, fetchErr(ref, "parse", err)
	}

	downloadDir := filepath.Join(filepath.Dir(dest), ".download-"+uuid.NewString())
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return 0, fetchErr(ref, "create dir", err)
	}
	defer os.RemoveAll(downloadDir) //nolint:errcheck

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.opts.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	if d.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(d.opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	runCtx, cancel := context.WithTimeout(browserCtx, d.opts.Wait)
	defer cancel()

	tracker := newDownloadTracker()
	chromedp.ListenTarget(runCtx, tracker.handle)

	zap.L().Info("fetcher: exporting dashboard report", zap.String("url", pageURL))

	actions := append([]chromedp.Action{
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
		chromedp.Navigate(pageURL),
	}, exportActions(d.opts.ExportSteps)...)
	err = chromedp.Run(runCtx, actions...)
	if err != nil {
		return 0, fetchErr(ref, "export", err)
	}

	dl, err := tracker.wait(runCtx)
	if err != nil {
		return 0, fetchErr(ref, "export", err)
	}

	src, err := os.Open(filepath.Join(downloadDir, dl.guid))
	if err != nil {
		return 0, fetchErr(ref, "open download", err)
	}
	defer src.Close() //nolint:errcheck

	return writeComplete(ref, dest, src, dl.totalBytes)
}

type finishedDownload struct {
	guid       string
	totalBytes int64
}

// downloadTracker turns browser download events into a single completion
// result: the first download that reaches a terminal state decides it.
type downloadTracker struct {
	once sync.Once
	done chan struct{}
	dl   finishedDownload
	err  error
}

func newDownloadTracker() *downloadTracker {
	return &downloadTracker{done: make(chan struct{})}
}

func (t *downloadTracker) handle(ev any) {
	e, ok := ev.(*browser.EventDownloadProgress)
	if !ok {
		return
	}
	switch e.State {
	case browser.DownloadProgressStateCompleted:
		total := int64(e.TotalBytes)
		if total <= 0 {
			total = int64(e.ReceivedBytes)
		}
		t.finish(finishedDownload{guid: e.GUID, totalBytes: total}, nil)
	case browser.DownloadProgressStateCanceled:
		t.finish(finishedDownload{guid: e.GUID}, eris.Errorf("download %s canceled", e.GUID))
	}
}

func (t *downloadTracker) finish(dl finishedDownload, err error) {
	t.once.Do(func() {
		t.dl = dl
		t.err = err
		close(t.done)
	})
}

func (t *downloadTracker) wait(ctx context.Context) (finishedDownload, error) {
	select {
	case <-t.done:
		return t.dl, t.err
	case <-ctx.Done():
		return finishedDownload{}, eris.Wrap(ctx.Err(), "waiting for export download")
	}
}
