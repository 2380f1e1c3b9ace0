package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"jms/internal/logger"
	"jms/internal/models"
)

// AddShop creates a shop, or returns the existing one with the same name.
func (s *Store) AddShop(ctx context.Context, name string) (*models.Shop, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("shop name must not be empty")
	}

	if _, err := s.DB().ExecContext(ctx, "INSERT OR IGNORE INTO shops (name) VALUES (?)", name); err != nil {
		logger.Error("Failed to add shop", "shop", name, "error", err)
		return nil, fmt.Errorf("failed to add shop: %w", err)
	}

	return s.GetShop(ctx, name)
}

// GetShop looks a shop up by name.
func (s *Store) GetShop(ctx context.Context, name string) (*models.Shop, error) {
	name = strings.TrimSpace(name)
	var shop models.Shop
	err := s.DB().GetContext(ctx, &shop, "SELECT id, name, created_at FROM shops WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("shop", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}
	return &shop, nil
}

func (s *Store) ListShops(ctx context.Context) ([]models.Shop, error) {
	shops := []models.Shop{}
	if err := s.DB().SelectContext(ctx, &shops, "SELECT id, name, created_at FROM shops ORDER BY name"); err != nil {
		return nil, fmt.Errorf("failed to query shops: %w", err)
	}
	return shops, nil
}

// RenameShop fails with ErrConflict when newName is taken.
func (s *Store) RenameShop(ctx context.Context, oldName, newName string) error {
	oldName = strings.TrimSpace(oldName)
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return validationError("shop name must not be empty")
	}

	tx, err := s.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var taken int
	if err := tx.GetContext(ctx, &taken, "SELECT COUNT(*) FROM shops WHERE name = ?", newName); err != nil {
		return fmt.Errorf("failed to check shop name: %w", err)
	}
	if taken > 0 {
		return fmt.Errorf("%w: shop %s", ErrConflict, newName)
	}

	result, err := tx.ExecContext(ctx, "UPDATE shops SET name = ? WHERE name = ?", newName, oldName)
	if err != nil {
		return fmt.Errorf("failed to rename shop: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound("shop", oldName)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rename: %w", err)
	}

	logger.Info("Shop renamed", "from", oldName, "to", newName)
	return nil
}

// DeleteShop removes the shop's stock rows and then the shop itself. Sales
// keep their history with the shop reference cleared.
func (s *Store) DeleteShop(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)

	tx, err := s.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var shopID int64
	err = tx.GetContext(ctx, &shopID, "SELECT id FROM shops WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("shop", name)
	}
	if err != nil {
		return fmt.Errorf("failed to get shop: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM shop_items WHERE shop_id = ?", shopID); err != nil {
		return fmt.Errorf("failed to delete shop items: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM shops WHERE id = ?", shopID); err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: shop %s has audit history", ErrConflict, name)
		}
		return fmt.Errorf("failed to delete shop: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit shop deletion: %w", err)
	}

	logger.Info("Shop deleted", "shop", name, "shop_id", shopID)
	return nil
}

func shopID(ctx context.Context, q queryer, name string) (int64, error) {
	var id int64
	err := q.GetContext(ctx, &id, "SELECT id FROM shops WHERE name = ?", strings.TrimSpace(name))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound("shop", name)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get shop: %w", err)
	}
	return id, nil
}
