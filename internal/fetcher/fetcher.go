// Package fetcher downloads raw report files from the dashboard, HTTP
// endpoints, FTP shares and local paths.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ReportFetcher downloads the report identified by ref into dest.
// Implementations never leave a partial file at dest: the file either holds
// the complete report or does not exist.
type ReportFetcher interface {
	Fetch(ctx context.Context, ref string, dest string) (int64, error)
}

// FetchError reports a failed download. It is fatal to the source's run.
type FetchError struct {
	Ref string
	Op  string // "dial", "download", "export", "incomplete", ...
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.Ref, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func fetchErr(ref, op string, err error) error {
	return &FetchError{Ref: ref, Op: op, Err: err}
}

// Router dispatches a ref to the fetcher registered for its URL scheme.
// Bare paths are treated as "file".
type Router struct {
	schemes map[string]ReportFetcher
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{schemes: make(map[string]ReportFetcher)}
}

// Handle registers f for the given schemes.
func (r *Router) Handle(f ReportFetcher, schemes ...string) *Router {
	for _, s := range schemes {
		r.schemes[strings.ToLower(s)] = f
	}
	return r
}

// Fetch implements ReportFetcher.
func (r *Router) Fetch(ctx context.Context, ref string, dest string) (int64, error) {
	scheme := Scheme(ref)
	f, ok := r.schemes[scheme]
	if !ok {
		return 0, fetchErr(ref, "route", eris.Errorf("no fetcher for scheme %q", scheme))
	}
	return f.Fetch(ctx, ref, dest)
}

// Scheme returns the lower-cased URL scheme of ref, or "file" for plain paths.
func Scheme(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 { // "C:\..." parses as scheme "c"
		return "file"
	}
	return strings.ToLower(u.Scheme)
}

// writeComplete streams body into dest via a ".part" file and renames it into
// place only after the copy finished and, when expected >= 0, the byte count
// matches. A short or failed copy removes the part file.
func writeComplete(ref, dest string, body io.Reader, expected int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fetchErr(ref, "create dir", err)
	}

	part := dest + ".part"
	file, err := os.Create(part)
	if err != nil {
		return 0, fetchErr(ref, "create file", err)
	}

	n, copyErr := io.Copy(file, body)
	closeErr := file.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(part)
		return n, fetchErr(ref, "write file", copyErr)
	case closeErr != nil:
		_ = os.Remove(part)
		return n, fetchErr(ref, "close file", closeErr)
	case expected >= 0 && n != expected:
		_ = os.Remove(part)
		return n, fetchErr(ref, "incomplete", eris.Errorf("got %d of %d bytes", n, expected))
	case n == 0:
		_ = os.Remove(part)
		return 0, fetchErr(ref, "incomplete", eris.New("empty file"))
	}

	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return n, fetchErr(ref, "rename", err)
	}
	return n, nil
}
