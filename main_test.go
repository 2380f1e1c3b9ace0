package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("JMS_CONFIG", "")
	t.Setenv("DATABASE_PATH", filepath.Join(dir, "data", "jewelry.db"))
	t.Setenv("BACKUP_DIR", filepath.Join(dir, "backups"))
	t.Setenv("EXPORT_DIR", filepath.Join(dir, "exports"))
	t.Setenv("LOG_OUTPUT", "stdout")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("BARCODE_START", "5000")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "jms version "+version)
}

func TestInitCommand(t *testing.T) {
	testEnv(t)

	out, err := execute(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Database ready")
	assert.Contains(t, out, "1 shops")
	assert.Contains(t, out, "1 users")
}

func TestBarcodeCommands(t *testing.T) {
	testEnv(t)

	out, err := execute(t, "barcode", "next")
	require.NoError(t, err)
	assert.Equal(t, "5000", strings.TrimSpace(out))

	_, err = execute(t, "barcode", "reset", "7000")
	require.NoError(t, err)

	out, err = execute(t, "barcode", "next")
	require.NoError(t, err)
	assert.Equal(t, "7000", strings.TrimSpace(out))

	_, err = execute(t, "barcode", "reset", "abc")
	assert.Error(t, err)
}

func TestMasterKeyCommands(t *testing.T) {
	testEnv(t)

	out, err := execute(t, "master-keys", "generate", "3")
	require.NoError(t, err)
	assert.Len(t, strings.Fields(out), 3)

	out, err = execute(t, "master-keys", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "total 3, used 0, remaining 3")
}

func TestBackupAndExportCommands(t *testing.T) {
	dir := testEnv(t)

	out, err := execute(t, "backup")
	require.NoError(t, err)
	backupPath := strings.TrimSpace(out)
	assert.FileExists(t, backupPath)

	out, err = execute(t, "backups")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Base(backupPath))

	exportPath := filepath.Join(dir, "export.json")
	out, err = execute(t, "export", exportPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported")
	assert.FileExists(t, exportPath)

	out, err = execute(t, "import", "--policy", "all-or-nothing", exportPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Policy: all-or-nothing")

	_, err = execute(t, "export", "--format", "xml", exportPath)
	assert.Error(t, err)
}

func TestFactoryResetRequiresConfirmation(t *testing.T) {
	dir := testEnv(t)

	_, err := execute(t, "factory-reset")
	assert.Error(t, err)

	out, err := execute(t, "factory-reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "All data removed")

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLowStockCommand(t *testing.T) {
	testEnv(t)

	out, err := execute(t, "low-stock", "--threshold", "2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "barcode,"), out)

	_, err = execute(t, "low-stock", "--threshold", "-1")
	assert.Error(t, err)
}
