package acquire

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/dbsmedya/pprload/internal/config"
	"github.com/dbsmedya/pprload/internal/logger"
)

const registerCSV = "Date of Sale (dd/mm/yyyy),Address,County,Eircode,Price (€),Not Full Market Price,VAT Exclusive,Description of Property,Property Size Description,Postal Code\r\n" +
	"01/01/2010,\"5 Braemor Drive, Churchtown, Co.Dublin\",Dublin,,\"€343,000.00\",No,No,Second-Hand Dwelling house /Apartment,,\r\n" +
	"03/01/2010,\"134 Ashewood Walk, Summerhill Lane, Portlaoise\",Laois,,\"€185,000.00\",No,Yes,New Dwelling house /Apartment,\"greater than or equal to 38 sq metres and less than 125 sq metres\",\r\n" +
	"04/01/2010,\"1 Meadow Avenue, Dundrum, Dublin 14\",Dublin,,\"€438,500.00\",No,No,Teach/Árasán Cónaithe Atháimhe,,Dublin 14\r\n"

func encode1252(t *testing.T, s string) []byte {
	t.Helper()
	out, err := charmap.Windows1252.NewEncoder().String(s)
	require.NoError(t, err)
	return []byte(out)
}

func buildZip(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestAcquirer(t *testing.T, cfg config.SourceConfig) *Acquirer {
	t.Helper()
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	a := New(cfg, logger.NewNop())
	a.now = func() time.Time { return time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC) }
	return a
}

func TestPaths(t *testing.T) {
	a := newTestAcquirer(t, config.SourceConfig{DataDir: "data"})

	assert.Equal(t, filepath.Join("data", "source", "downloaded_at=2024-03-05", "PPR-ALL.zip"), a.ArchivePath())
	assert.Equal(t, filepath.Join("data", "raw", "downloaded_at=2024-03-05", "ppr-all.csv"), a.RawPath())
}

func TestResolve_ConfiguredURL(t *testing.T) {
	a := newTestAcquirer(t, config.SourceConfig{URL: "http://example.test/PPR-ALL.zip"})

	got, err := a.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "http://example.test/PPR-ALL.zip", got)
}

func TestResolve_IndexPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/help.html">Help</a>
			<a href="Downloads/PPR-ALL.zip/$FILE/PPR-ALL.zip">Download all</a>
			<a href="/other/PPR-ALL.zip">Mirror</a>
		</body></html>`)
	}))
	defer srv.Close()

	a := newTestAcquirer(t, config.SourceConfig{IndexURL: srv.URL + "/ppr/index.html"})

	got, err := a.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/ppr/Downloads/PPR-ALL.zip/$FILE/PPR-ALL.zip", got)
}

func TestResolve_IndexWithoutLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/x.csv">x</a></body></html>`)
	}))
	defer srv.Close()

	a := newTestAcquirer(t, config.SourceConfig{IndexURL: srv.URL})

	_, err := a.Resolve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no PPR-ALL.zip link")
}

func TestDownload(t *testing.T) {
	archive := buildZip(t, "PPR-ALL.csv", encode1252(t, registerCSV))
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	a := newTestAcquirer(t, config.SourceConfig{URL: srv.URL + "/PPR-ALL.zip"})

	path, err := a.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a.ArchivePath(), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, archive, data)

	// Second call the same day reuses the file
	_, err = a.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestDownload_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := newTestAcquirer(t, config.SourceConfig{URL: srv.URL})

	_, err := a.Download(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))

	_, statErr := os.Stat(a.ArchivePath())
	assert.True(t, os.IsNotExist(statErr), "no archive should be left behind")

	entries, err := os.ReadDir(filepath.Dir(a.ArchivePath()))
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestDownload_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := newTestAcquirer(t, config.SourceConfig{URL: url})

	_, err := a.Download(context.Background())
	assert.True(t, errors.Is(err, ErrUpstreamUnavailable))
}

func writeArchive(t *testing.T, a *Acquirer, content []byte) string {
	t.Helper()
	path := a.ArchivePath()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buildZip(t, "PPR-ALL.csv", content), 0o644))
	return path
}

func TestExtractRaw(t *testing.T) {
	a := newTestAcquirer(t, config.SourceConfig{})
	archive := writeArchive(t, a, encode1252(t, registerCSV))

	path, err := a.ExtractRaw(context.Background(), archive)
	require.NoError(t, err)

	records, err := ReadRaw(path)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "01/01/2010", records[0].DateOfSale)
	assert.Equal(t, "5 Braemor Drive, Churchtown, Co.Dublin", records[0].Address)
	assert.Equal(t, "Dublin", records[0].County)
	assert.Equal(t, "€343,000.00", records[0].Price)
	assert.Equal(t, "Second-Hand Dwelling house /Apartment", records[0].Description)
	assert.Equal(t, "", records[0].PostalCode)

	assert.Equal(t, "Dublin 14", records[2].PostalCode)
	assert.Equal(t, "Teach/Árasán Cónaithe Atháimhe", records[2].Description)
}

func TestExtractRaw_RowLimit(t *testing.T) {
	a := newTestAcquirer(t, config.SourceConfig{RowLimit: 2})
	archive := writeArchive(t, a, encode1252(t, registerCSV))

	path, err := a.ExtractRaw(context.Background(), archive)
	require.NoError(t, err)

	records, err := ReadRaw(path)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestExtractRaw_ExistingFileReused(t *testing.T) {
	a := newTestAcquirer(t, config.SourceConfig{})
	raw := a.RawPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(raw), 0o755))
	existing := strings.Join(RawColumns, ",") + "\n01/02/2020,a,b,c,€1,new\n"
	require.NoError(t, os.WriteFile(raw, []byte(existing), 0o644))

	path, err := a.ExtractRaw(context.Background(), "does-not-exist.zip")
	require.NoError(t, err)

	records, err := ReadRaw(path)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestExtractRaw_MissingColumns(t *testing.T) {
	a := newTestAcquirer(t, config.SourceConfig{})
	archive := writeArchive(t, a, []byte("Address,County\r\nx,y\r\n"))

	_, err := a.ExtractRaw(context.Background(), archive)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "date_of_sale")

	_, statErr := os.Stat(a.RawPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestDecodeRaw_BadHeader(t *testing.T) {
	_, err := DecodeRaw(strings.NewReader("a,b,c,d,e,f\n"))
	assert.Error(t, err)

	_, err = DecodeRaw(strings.NewReader(""))
	assert.Error(t, err)
}
