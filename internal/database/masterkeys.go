package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"jms/internal/logger"
	"jms/internal/models"
)

const masterKeyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var masterKeyPattern = regexp.MustCompile(`^JWL-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// NormalizeMasterKey trims and upper-cases a key and checks its shape.
func NormalizeMasterKey(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", validationError("master key must not be empty")
	}
	if !masterKeyPattern.MatchString(code) {
		return "", validationError("invalid master key format")
	}
	return code, nil
}

func newMasterKey() (string, error) {
	var b strings.Builder
	b.WriteString("JWL")
	max := big.NewInt(int64(len(masterKeyAlphabet)))
	for group := 0; group < 3; group++ {
		b.WriteByte('-')
		for i := 0; i < 4; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("failed to generate master key: %w", err)
			}
			b.WriteByte(masterKeyAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}

// GenerateMasterKeys issues count new unused recovery keys.
func (s *Store) GenerateMasterKeys(ctx context.Context, count int) ([]string, error) {
	if count <= 0 {
		return nil, validationError("count must be positive")
	}

	tx, err := s.DB().BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	keys := make([]string, 0, count)
	for len(keys) < count {
		key, err := newMasterKey()
		if err != nil {
			return nil, err
		}
		result, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO master_keys (key_code) VALUES (?)", key)
		if err != nil {
			return nil, fmt.Errorf("failed to store master key: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 1 {
			keys = append(keys, key)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit master keys: %w", err)
	}

	logger.Info("Master keys generated", "count", count)
	return keys, nil
}

// UseMasterKey consumes an unused key and resets the administrator password
// to the default, in one transaction.
func (s *Store) UseMasterKey(ctx context.Context, code string) error {
	normalized, err := NormalizeMasterKey(code)
	if err != nil {
		logger.Warn("Rejected master key", "key_code", code, "error", err)
		return err
	}
	code = normalized

	tx, err := s.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var keyID int64
	err = tx.GetContext(ctx, &keyID, "SELECT id FROM master_keys WHERE key_code = ? AND is_used = FALSE", code)
	if errors.Is(err, sql.ErrNoRows) {
		logger.Warn("Master key not found or already used", "key_code", code)
		return fmt.Errorf("%w: invalid or already used master key", ErrUnauthorized)
	}
	if err != nil {
		return fmt.Errorf("failed to look up master key: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE master_keys SET is_used = TRUE, used_date = ?, used_by = ? WHERE id = ?",
		now(), DefaultAdminUsername, keyID); err != nil {
		return fmt.Errorf("failed to mark master key used: %w", err)
	}

	hash, err := hashPassword(DefaultAdminPassword)
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx,
		"UPDATE users SET password_hash = ? WHERE username = ?", hash, DefaultAdminUsername)
	if err != nil {
		return fmt.Errorf("failed to reset administrator password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := tx.ExecContext(ctx, "INSERT INTO users (username, password_hash, role) VALUES (?, ?, ?)",
			DefaultAdminUsername, hash, models.RoleAdmin); err != nil {
			return fmt.Errorf("failed to recreate administrator: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit master key use: %w", err)
	}

	logger.Info("Master key used, administrator password reset", "key_code", code)
	return nil
}

func (s *Store) MasterKeyStats(ctx context.Context) (models.MasterKeyStats, error) {
	var stats models.MasterKeyStats
	err := s.DB().GetContext(ctx, &stats, `
		SELECT COUNT(*) AS total, COALESCE(SUM(CASE WHEN is_used THEN 1 ELSE 0 END), 0) AS used
		FROM master_keys`)
	if err != nil {
		return stats, fmt.Errorf("failed to read master key stats: %w", err)
	}
	stats.Remaining = stats.Total - stats.Used
	return stats, nil
}

func (s *Store) ListMasterKeys(ctx context.Context) ([]models.MasterKey, error) {
	keys := []models.MasterKey{}
	if err := s.DB().SelectContext(ctx, &keys,
		"SELECT id, key_code, is_used, used_date, used_by FROM master_keys ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to query master keys: %w", err)
	}
	return keys, nil
}
