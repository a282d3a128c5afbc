package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDashboardURL(t *testing.T) {
	u, err := dashboardURL("dashboard://bi.prozorro.org/sense/app/abc?sheet=1")
	require.NoError(t, err)
	assert.Equal(t, "https://bi.prozorro.org/sense/app/abc?sheet=1", u)

	u, err = dashboardURL("http://localhost:8080/report")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/report", u)

	_, err = dashboardURL("ftp://x/y")
	require.Error(t, err)

	_, err = dashboardURL("dashboard:///no-host")
	require.Error(t, err)
}

func TestDownloadTracker_Completed(t *testing.T) {
	tr := newDownloadTracker()
	tr.handle(&browser.EventDownloadWillBegin{GUID: "g1"})
	tr.handle(&browser.EventDownloadProgress{GUID: "g1", State: browser.DownloadProgressStateInProgress, ReceivedBytes: 10, TotalBytes: 100})
	tr.handle(&browser.EventDownloadProgress{GUID: "g1", State: browser.DownloadProgressStateCompleted, ReceivedBytes: 100, TotalBytes: 100})
	// later terminal events do not change the result
	tr.handle(&browser.EventDownloadProgress{GUID: "g2", State: browser.DownloadProgressStateCanceled})

	dl, err := tr.wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "g1", dl.guid)
	assert.Equal(t, int64(100), dl.totalBytes)
}

func TestDownloadTracker_UnknownTotal(t *testing.T) {
	tr := newDownloadTracker()
	tr.handle(&browser.EventDownloadProgress{GUID: "g1", State: browser.DownloadProgressStateCompleted, ReceivedBytes: 42})

	dl, err := tr.wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), dl.totalBytes)
}

func TestDownloadTracker_Canceled(t *testing.T) {
	tr := newDownloadTracker()
	tr.handle(&browser.EventDownloadProgress{GUID: "g1", State: browser.DownloadProgressStateCanceled})

	_, err := tr.wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled")
}

func TestDownloadTracker_Timeout(t *testing.T) {
	tr := newDownloadTracker()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "waiting for export download")
}

func TestNewDashboardExporter_Defaults(t *testing.T) {
	d := NewDashboardExporter(DashboardOptions{})
	assert.Equal(t, 3*time.Minute, d.opts.Wait)
	assert.Equal(t, DefaultExportSteps, d.opts.ExportSteps)
	assert.Len(t, d.opts.ExportSteps, 2)

	custom := NewDashboardExporter(DashboardOptions{ExportSteps: []string{"#export"}})
	assert.Equal(t, []string{"#export"}, custom.opts.ExportSteps)
}

func TestExportActions_WaitThenClickPerStep(t *testing.T) {
	assert.Len(t, exportActions(DefaultExportSteps), 4)
	assert.Len(t, exportActions([]string{"#export"}), 2)
	assert.Empty(t, exportActions(nil))
}
