package cmd

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionCommandStructure(t *testing.T) {
	assert.NotNil(t, versionCmd)
	assert.Equal(t, "version", versionCmd.Use)
	assert.NotEmpty(t, versionCmd.Short)
	assert.NotNil(t, versionCmd.Run)
}

func TestRunVersion(t *testing.T) {
	originalVersion := Version
	originalCommit := Commit
	defer func() {
		Version = originalVersion
		Commit = originalCommit
	}()

	Version = "1.2.3"
	Commit = "abc123"

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)

	runVersion(versionCmd, []string{})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if assert.Len(t, lines, 4) {
		assert.Contains(t, string(lines[0]), "pprload version 1.2.3")
		assert.Contains(t, string(lines[1]), "Commit: abc123")
		assert.Contains(t, string(lines[2]), runtime.Version())
		assert.Contains(t, string(lines[3]), runtime.GOOS+"/"+runtime.GOARCH)
	}
}

func TestBuildCommit(t *testing.T) {
	originalCommit := Commit
	defer func() { Commit = originalCommit }()

	Commit = "deadbeef"
	assert.Equal(t, "deadbeef", buildCommit())

	// Test binaries carry no VCS stamp
	Commit = "unknown"
	assert.Equal(t, "unknown", buildCommit())
}
