package fetcher

import (
	"context"
	"net/url"
	"os"
	"strings"
)

// FileFetcher copies a report from a local or mounted shared-drive path.
// It accepts "file://" URLs and bare paths.
type FileFetcher struct{}

// NewFileFetcher creates a FileFetcher.
func NewFileFetcher() *FileFetcher { return &FileFetcher{} }

// Fetch copies the file named by ref into dest.
func (f *FileFetcher) Fetch(ctx context.Context, ref string, dest string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fetchErr(ref, "open", err)
	}

	path := localPath(ref)
	src, err := os.Open(path)
	if err != nil {
		return 0, fetchErr(ref, "open", err)
	}
	defer src.Close() //nolint:errcheck

	info, err := src.Stat()
	if err != nil {
		return 0, fetchErr(ref, "stat", err)
	}

	return writeComplete(ref, dest, src, info.Size())
}

func localPath(ref string) string {
	if !strings.HasPrefix(strings.ToLower(ref), "file://") {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return strings.TrimPrefix(ref, "file://")
	}
	return u.Path
}
