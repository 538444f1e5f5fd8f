package cmd

import (
	"archive/zip"
	"bytes"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

const registerHeader = "Date of Sale (dd/mm/yyyy),Address,County,Eircode,Price (€),Not Full Market Price,VAT Exclusive,Description of Property,Property Size Description,Postal Code\r\n"

const registerDay1 = registerHeader +
	"01/01/2010,\"5 Braemor Drive, Churchtown\",Dublin,,\"€343,000.00\",No,No,Second-Hand Dwelling house /Apartment,,\r\n" +
	"03/01/2010,\"134 Ashewood Walk, Portlaoise\",Laois,,\"€185,000.00\",No,Yes,New Dwelling house /Apartment,,\r\n" +
	"04/01/2010,\"1 Meadow Avenue, Dundrum\",Dublin,,\"€438,500.00\",No,No,Teach/Árasán Cónaithe Atháimhe,,Dublin 14\r\n"

// The Portlaoise sale was corrected and the Dundrum sale withdrawn.
const registerDay2 = registerHeader +
	"01/01/2010,\"5 Braemor Drive, Churchtown\",Dublin,,\"€343,000.00\",No,No,Second-Hand Dwelling house /Apartment,,\r\n" +
	"03/01/2010,\"134 Ashewood Walk, Portlaoise\",Laois,,\"€158,000.00\",No,Yes,New Dwelling house /Apartment,,\r\n"

// registerServer serves the register archive built from the current CSV.
type registerServer struct {
	*httptest.Server
	mu     sync.Mutex
	csv    string
	status int
}

func newRegisterServer(t *testing.T, csv string) *registerServer {
	t.Helper()
	rs := &registerServer{csv: csv, status: http.StatusOK}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		if rs.status != http.StatusOK {
			w.WriteHeader(rs.status)
			return
		}
		w.Write(buildArchive(t, rs.csv))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *registerServer) set(csv string, status int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.csv = csv
	rs.status = status
}

func buildArchive(t *testing.T, csv string) []byte {
	encoded, err := charmap.Windows1252.NewEncoder().String(csv)
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("PPR-ALL.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(encoded))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type testEnv struct {
	dir    string
	dbPath string
	server *registerServer
}

func newTestEnv(t *testing.T, csv string) *testEnv {
	dir := t.TempDir()
	env := &testEnv{
		dir:    dir,
		dbPath: filepath.Join(dir, "ppr.db"),
		server: newRegisterServer(t, csv),
	}
	env.writeConfig(t, "data1", "")
	return env
}

// writeConfig points the data directory at a fresh subdirectory so a new
// download happens on the same day.
func (e *testEnv) writeConfig(t *testing.T, dataDir, password string) {
	content := fmt.Sprintf(`store:
  driver: sqlite3
  database: %s
  password: %q
source:
  url: %s/PPR-ALL.zip
  data_dir: %s
metrics:
  textfile: %s
logging:
  level: error
  format: text
  output: stderr
`, e.dbPath, password, e.server.URL, filepath.Join(e.dir, dataDir), filepath.Join(e.dir, "metrics", "pprload.prom"))
	require.NoError(t, os.WriteFile(e.configPath(), []byte(content), 0o644))
}

func (e *testEnv) configPath() string {
	return filepath.Join(e.dir, "pprload.yaml")
}

func (e *testEnv) cleanRows(t *testing.T) []string {
	db, err := sql.Open("sqlite3", e.dbPath)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query("SELECT transaction_key FROM ppr_clean_all ORDER BY transaction_key")
	require.NoError(t, err)
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		require.NoError(t, rows.Scan(&k))
		keys = append(keys, k)
	}
	require.NoError(t, rows.Err())
	return keys
}

func resetFlags() {
	cfgFile = "pprload.yaml"
	logLevel = ""
	logFormat = ""
	batchInsertSize = 0
	batchDeleteSize = 0
	rowLimit = 0
	onError = ""
	skipVerify = false
	planSample = 10
	runsLimit = 10
	validateKeys = false
	initDBPrint = false
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRun_EndToEnd(t *testing.T) {
	env := newTestEnv(t, registerDay1)
	cfg := env.configPath()

	out, err := executeCommand(t, "init-db", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Tables ready: ppr_raw_all, ppr_clean_all, pprload_run")

	out, err = executeCommand(t, "run", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "pprload run SUCCEEDED")
	assert.Regexp(t, `Records acquired:\s+3`, out)
	assert.Regexp(t, `Inserted:\s+3`, out)
	assert.Regexp(t, `Deleted:\s+0`, out)
	assert.Len(t, env.cleanRows(t), 3)

	first := env.cleanRows(t)

	env.server.set(registerDay2, http.StatusOK)
	env.writeConfig(t, "data2", "")

	out, err = executeCommand(t, "run", "-c", cfg)
	require.NoError(t, err)
	assert.Regexp(t, `Inserted:\s+1`, out)
	assert.Regexp(t, `Deleted:\s+2`, out)

	second := env.cleanRows(t)
	require.Len(t, second, 2)
	assert.Contains(t, first, second[0])
	assert.Contains(t, second[1], "158000")

	// Nothing changed upstream: the next load is a no-op
	out, err = executeCommand(t, "plan", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "clean table already matches the snapshot")

	out, err = executeCommand(t, "validate", "-c", cfg, "--keys")
	require.NoError(t, err)
	assert.Contains(t, out, "Stored keys match their rows")
	assert.Contains(t, out, "Last run")

	out, err = executeCommand(t, "runs", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 2 run(s)")
	assert.Contains(t, out, "succeeded")

	_, err = os.Stat(filepath.Join(env.dir, "metrics", "pprload.prom"))
	assert.NoError(t, err)

	_, err = executeCommand(t, "runs", "-c", cfg, "no-such-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestStages_SeparateCommands(t *testing.T) {
	env := newTestEnv(t, registerDay1)
	cfg := env.configPath()

	_, err := executeCommand(t, "init-db", "-c", cfg)
	require.NoError(t, err)

	_, err = executeCommand(t, "extract", "-c", cfg, "--row-limit", "2")
	require.NoError(t, err)

	out, err := executeCommand(t, "transform", "-c", cfg)
	require.NoError(t, err)
	assert.Regexp(t, `Records acquired:\s+2`, out)
	assert.Empty(t, env.cleanRows(t))

	out, err = executeCommand(t, "plan", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "to insert 2, to delete 0")
	assert.Contains(t, out, "5 braemor drive, churchtown")

	_, err = executeCommand(t, "load", "-c", cfg)
	require.NoError(t, err)
	assert.Len(t, env.cleanRows(t), 2)
}

func TestRun_RequiresTables(t *testing.T) {
	env := newTestEnv(t, registerDay1)

	_, err := executeCommand(t, "run", "-c", env.configPath())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init-db")
}

func TestRun_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, registerDay1)
	cfg := env.configPath()

	_, err := executeCommand(t, "init-db", "-c", cfg)
	require.NoError(t, err)
	_, err = executeCommand(t, "run", "-c", cfg)
	require.NoError(t, err)

	env.server.set("", http.StatusServiceUnavailable)
	env.writeConfig(t, "data2", "")

	out, err := executeCommand(t, "run", "-c", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream unavailable")
	assert.Contains(t, out, "pprload run FAILED")
	assert.Len(t, env.cleanRows(t), 3)

	out, err = executeCommand(t, "runs", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "error: extract:")
}

func TestInitDB_Print(t *testing.T) {
	env := newTestEnv(t, registerDay1)

	out, err := executeCommand(t, "init-db", "-c", env.configPath(), "--print")
	require.NoError(t, err)
	assert.Contains(t, out, `CREATE TABLE IF NOT EXISTS "ppr_raw_all"`)
	assert.Contains(t, out, `CREATE TABLE IF NOT EXISTS "ppr_clean_all"`)

	assert.False(t, env.tableExists(t, "ppr_clean_all"))
}

func (e *testEnv) tableExists(t *testing.T, name string) bool {
	db, err := sql.Open("sqlite3", e.dbPath)
	require.NoError(t, err)
	defer db.Close()

	var n int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestShowConfig_MasksPassword(t *testing.T) {
	env := newTestEnv(t, registerDay1)
	env.writeConfig(t, "data1", "hunter2")

	out, err := executeCommand(t, "show-config", "-c", env.configPath(), "--batch-insert-size", "2000")
	require.NoError(t, err)
	assert.Contains(t, out, "driver: sqlite3")
	assert.Contains(t, out, "batch_insert_size: 2000")
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "hunter2")
}

func TestValidate_InvalidConfig(t *testing.T) {
	env := newTestEnv(t, registerDay1)

	out, err := executeCommand(t, "validate", "-c", env.configPath(), "--on-error", "explode")
	require.Error(t, err)
	assert.Contains(t, out, "normalize.on_error")
}

func TestValidate_MissingTables(t *testing.T) {
	env := newTestEnv(t, registerDay1)

	out, err := executeCommand(t, "validate", "-c", env.configPath())
	require.Error(t, err)
	assert.Contains(t, out, "Missing tables")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := executeCommand(t, "show-config", "-c", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}
