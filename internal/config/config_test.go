package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("data", "jewelry.db"), cfg.DatabasePath)
	assert.Equal(t, 30*time.Second, cfg.BusyTimeout)
	assert.Equal(t, int64(1000000), cfg.BarcodeStart)
	assert.Equal(t, ImportBestEffort, cfg.ImportPolicy)
	assert.Equal(t, 5, cfg.LowStockThreshold)
	assert.False(t, cfg.EmailEnabled())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_PATH", "/tmp/shop.db")
	t.Setenv("BUSY_TIMEOUT", "5s")
	t.Setenv("IMPORT_POLICY", ImportAllOrNothing)
	t.Setenv("LOW_STOCK_THRESHOLD", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/shop.db", cfg.DatabasePath)
	assert.Equal(t, 5*time.Second, cfg.BusyTimeout)
	assert.Equal(t, ImportAllOrNothing, cfg.ImportPolicy)
	assert.Equal(t, 2, cfg.LowStockThreshold)
}

func TestLoadYAMLWithPlaceholders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jms.yaml")
	content := `
database_path: ${JMS_TEST_DB:fallback.db}
backup_dir: ${JMS_TEST_UNSET:archive}
busy_timeout: 10s
logger:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("JMS_CONFIG", path)
	t.Setenv("JMS_TEST_DB", "from-env.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env.db", cfg.DatabasePath)
	assert.Equal(t, "archive", cfg.BackupDir)
	assert.Equal(t, 10*time.Second, cfg.BusyTimeout)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestValidateRejectsUnknownPolicy(t *testing.T) {
	cfg := defaults()
	cfg.ImportPolicy = "sometimes"
	assert.Error(t, cfg.Validate())

	cfg = defaults()
	cfg.DatabasePath = "  "
	assert.Error(t, cfg.Validate())
}
