package transfer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"torrent-gateway/internal/model"
)

// httpTransporter fetches a file from the backend's HTTP-download
// endpoint, the web server (often the backend's own bundled one)
// rTorrent/Transmission operators commonly expose over the download
// directory.
type httpTransporter struct {
	cfg *model.HTTPDownload
}

func (t *httpTransporter) Transfer(ctx context.Context, src, dest string, size int64, progress func(done int64)) error {
	scheme := "http"
	if t.cfg.UseSSL {
		scheme = "https"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port),
		Path:   joinURLPath(t.cfg.Path, src),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if t.cfg.Auth != "" {
		if user, pass, ok := strings.Cut(t.cfg.Auth, ":"); ok {
			req.SetBasicAuth(user, pass)
		}
	}

	client := &http.Client{Timeout: 0} // bounded by ctx instead of a fixed deadline
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", u.String(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", u.String(), resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating destination %s: %w", dest, err)
	}
	defer out.Close()

	if err := copyWithProgress(ctx, out, resp.Body, progress); err != nil {
		return fmt.Errorf("downloading %s: %w", u.String(), err)
	}
	return out.Sync()
}

func joinURLPath(base, rel string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rel, "/")
}
