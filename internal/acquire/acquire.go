// Package acquire fetches the Property Price Register archive and extracts the
// raw CSV snapshot from it.
package acquire

import (
	"crypto/tls"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/dbsmedya/pprload/internal/config"
	"github.com/dbsmedya/pprload/internal/logger"
)

// ErrUpstreamUnavailable is returned when the register archive cannot be fetched.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

const (
	archiveName = "PPR-ALL.zip"
	rawName     = "ppr-all.csv"
)

// Acquirer downloads the archive at most once per day and keeps a dated
// copy of both the archive and the extracted raw CSV under the data directory.
type Acquirer struct {
	cfg    config.SourceConfig
	client *http.Client
	log    *logger.Logger
	now    func() time.Time
}

// New creates an Acquirer from source configuration.
func New(cfg config.SourceConfig, log *logger.Logger) *Acquirer {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		// The register's certificate chain has historically been incomplete
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &Acquirer{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		log: log.WithStage("extract"),
		now: time.Now,
	}
}

// partition returns the "downloaded_at=YYYY-MM-DD" directory name for today.
func (a *Acquirer) partition() string {
	return "downloaded_at=" + a.now().Format("2006-01-02")
}

// ArchivePath returns today's archive location.
func (a *Acquirer) ArchivePath() string {
	return filepath.Join(a.cfg.DataDir, "source", a.partition(), archiveName)
}

// RawPath returns today's extracted CSV location.
func (a *Acquirer) RawPath() string {
	return filepath.Join(a.cfg.DataDir, "raw", a.partition(), rawName)
}
