package fetcher

import (
	"context"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP fetcher. Credentials embedded in the URL take
// precedence over User/Password; with neither, the login is anonymous.
type FTPOptions struct {
	Timeout  time.Duration
	User     string
	Password string
}

// FTPFetcher downloads reports from an FTP share.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{opts: opts}
}

type ftpTarget struct {
	host     string
	path     string
	user     string
	password string
}

// parseFTPURL extracts host (with port), path and optional credentials from an FTP URL.
func parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}

	t := ftpTarget{host: u.Host, path: u.Path}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if t.path == "" {
		return ftpTarget{}, eris.New("empty path in ftp url")
	}
	if u.User != nil {
		t.user = u.User.Username()
		t.password, _ = u.User.Password()
	}
	return t, nil
}

func (f *FTPFetcher) credentials(t ftpTarget) (string, string) {
	switch {
	case t.user != "":
		return t.user, t.password
	case f.opts.User != "":
		return f.opts.User, f.opts.Password
	default:
		return "anonymous", "anonymous@"
	}
}

// Fetch connects to the FTP server and retrieves the file into dest. When the
// server reports the file size, a short transfer is rejected.
func (f *FTPFetcher) Fetch(ctx context.Context, ftpURL string, dest string) (int64, error) {
	t, err := parseFTPURL(ftpURL)
	if err != nil {
		return 0, fetchErr(ftpURL, "parse", err)
	}

	zap.L().Debug("ftp: connecting", zap.String("host", t.host), zap.String("path", t.path))

	conn, err := ftp.Dial(t.host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return 0, fetchErr(ftpURL, "dial", eris.Wrap(err, "ftp dial"))
	}
	defer conn.Quit() //nolint:errcheck

	user, pass := f.credentials(t)
	if err := conn.Login(user, pass); err != nil {
		return 0, fetchErr(ftpURL, "login", eris.Wrap(err, "ftp login"))
	}

	expected := int64(-1)
	if size, err := conn.FileSize(t.path); err == nil {
		expected = size
	}

	resp, err := conn.Retr(t.path)
	if err != nil {
		return 0, fetchErr(ftpURL, "retrieve", eris.Wrap(err, "ftp retrieve"))
	}
	defer resp.Close() //nolint:errcheck

	return writeComplete(ftpURL, dest, resp, expected)
}
