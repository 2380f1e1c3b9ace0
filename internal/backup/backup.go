package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"jms/internal/database"
	"jms/internal/logger"
)

const (
	BackupPrefix    = "резервно_копие"
	BackupExtension = ".db"

	// backupTimeLayout uses dots in the time part so names stay valid on
	// every filesystem.
	backupTimeLayout = "02.01.2006_15.04.05"
)

var sqliteHeader = []byte("SQLite format 3\x00")

type Policy string

const (
	BestEffort   Policy = "best-effort"
	AllOrNothing Policy = "all-or-nothing"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case BestEffort, AllOrNothing:
		return Policy(s), nil
	case "":
		return BestEffort, nil
	}
	return "", fmt.Errorf("unknown import policy %q", s)
}

// Manager snapshots, restores, exports and imports one Store.
type Manager struct {
	store     *database.Store
	backupDir string
	policy    Policy
	now       func() time.Time
}

func NewManager(store *database.Store, backupDir string, policy Policy) *Manager {
	if policy == "" {
		policy = BestEffort
	}
	return &Manager{
		store:     store,
		backupDir: backupDir,
		policy:    policy,
		now:       time.Now,
	}
}

func (m *Manager) Policy() Policy {
	return m.policy
}

// WithPolicy returns a copy of m that imports under p.
func (m *Manager) WithPolicy(p Policy) *Manager {
	clone := *m
	clone.policy = p
	return &clone
}

func (m *Manager) BackupDir() string {
	return m.backupDir
}

// BackupFileName formats the name of a backup taken at t.
func BackupFileName(t time.Time) string {
	return fmt.Sprintf("%s - %s%s", BackupPrefix, t.Format(backupTimeLayout), BackupExtension)
}

// ParseBackupTime extracts the timestamp from a backup file name.
func ParseBackupTime(name string) (time.Time, error) {
	base := strings.TrimSuffix(filepath.Base(name), BackupExtension)
	base = strings.TrimPrefix(base, BackupPrefix+" - ")
	if i := strings.Index(base, " ("); i >= 0 {
		base = base[:i]
	}
	return time.ParseInLocation(backupTimeLayout, base, time.Local)
}

// uniquePath appends " (n)" before the extension until the name is free.
func uniquePath(dir, name string) string {
	path := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
}

// Backup copies the live database into the backup directory and returns the
// new file's path.
func (m *Manager) Backup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(m.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	if err := m.store.Checkpoint(ctx); err != nil {
		logger.Warn("Checkpoint before backup failed", "error", err)
	}

	target := uniquePath(m.backupDir, BackupFileName(m.now()))
	if err := copyFile(m.store.Path(), target); err != nil {
		logger.Error("Backup failed", "path", target, "error", err)
		return "", err
	}

	logger.Info("Database backup created", "path", target)
	return target, nil
}

// Restore replaces the live database with the backup at path. The current
// file is backed up first and the store is reopened afterwards.
func (m *Manager) Restore(ctx context.Context, path string) error {
	if err := checkSQLiteFile(path); err != nil {
		return err
	}

	dbPath := m.store.Path()
	staged := dbPath + ".restore"
	if err := copyFile(path, staged); err != nil {
		return err
	}
	defer os.Remove(staged)

	safety, err := m.Backup(ctx)
	if err != nil {
		return fmt.Errorf("failed to back up current database before restore: %w", err)
	}

	// Requests block in Store.DB until the new file is open.
	err = m.store.Replace(ctx, func() error {
		for _, suffix := range []string{"-wal", "-shm"} {
			if err := os.Remove(dbPath + suffix); err != nil && !os.IsNotExist(err) {
				logger.Warn("Failed to remove stale journal file", "path", dbPath+suffix, "error", err)
			}
		}
		if err := os.Rename(staged, dbPath); err != nil {
			return fmt.Errorf("failed to replace database file: %w", err)
		}
		return nil
	})
	if err != nil {
		logger.Error("Restore failed", "path", path, "error", err)
		return err
	}

	logger.Info("Database restored from backup", "path", path, "safety_backup", safety)
	return nil
}

type BackupFile struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// ListBackups returns the backups in the backup directory, newest first.
func (m *Manager) ListBackups() ([]BackupFile, error) {
	entries, err := os.ReadDir(m.backupDir)
	if os.IsNotExist(err) {
		return []BackupFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	backups := []BackupFile{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, BackupPrefix) || !strings.HasSuffix(name, BackupExtension) {
			continue
		}
		created, err := ParseBackupTime(name)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupFile{
			Path:      filepath.Join(m.backupDir, name),
			Name:      name,
			Size:      info.Size(),
			CreatedAt: created,
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].Name > backups[j].Name
		}
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

func checkSQLiteFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	header := make([]byte, len(sqliteHeader))
	if _, err := io.ReadFull(f, header); err != nil || !bytes.Equal(header, sqliteHeader) {
		return fmt.Errorf("%w: %s is not an SQLite database", database.ErrValidation, filepath.Base(path))
	}
	return nil
}

// copyFile writes to a temporary sibling and renames it into place, so the
// target is either complete or absent.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".copy-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to move copy into place: %w", err)
	}
	return nil
}
