package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Download fetches today's archive unless it is already on disk and returns
// its path. Failed or partial downloads leave nothing behind.
func (a *Acquirer) Download(ctx context.Context) (string, error) {
	dest := a.ArchivePath()
	if _, err := os.Stat(dest); err == nil {
		a.log.Infow("Snapshot file already exists, skipping download", "path", dest)
		return dest, nil
	}

	src, err := a.Resolve(ctx)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create source directory: %w", err)
	}

	a.log.Infow("Downloading snapshot", "url", src, "path", dest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s returned %s", ErrUpstreamUnavailable, src, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), archiveName+".*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrUpstreamUnavailable, err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("move archive into place: %w", err)
	}

	a.log.Infow("Snapshot downloaded", "bytes", n)
	return dest, nil
}
