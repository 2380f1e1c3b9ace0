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

// itemSelect reads items in models.ItemColumns order.
const itemSelect = `
	SELECT id, barcode, name, COALESCE(description, '') AS description, category,
	       price, cost, COALESCE(weight, 0) AS weight,
	       COALESCE(metal_type, '') AS metal_type, COALESCE(stone_type, '') AS stone_type,
	       stock_quantity, created_at, updated_at
	FROM items`

func validateItem(item *models.Item) error {
	item.Barcode = strings.TrimSpace(item.Barcode)
	item.Name = strings.TrimSpace(item.Name)
	item.Category = strings.TrimSpace(item.Category)

	if item.Barcode == "" {
		return validationError("barcode must not be empty")
	}
	if item.Name == "" {
		return validationError("name must not be empty")
	}
	if item.Category == "" {
		return validationError("category must not be empty")
	}
	if item.Price < 0 {
		return validationError("price must not be negative")
	}
	if item.Cost < 0 {
		return validationError("cost must not be negative")
	}
	if item.Weight < 0 {
		return validationError("weight must not be negative")
	}
	if item.StockQuantity < 0 {
		return validationError("stock quantity must not be negative")
	}
	return nil
}

// CreateItem stores a new warehouse item.
func (s *Store) CreateItem(ctx context.Context, item models.Item) (*models.Item, error) {
	if err := validateItem(&item); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO items (barcode, name, description, category, price, cost, weight, metal_type, stone_type, stock_quantity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.DB().ExecContext(ctx, query, item.Barcode, item.Name, item.Description, item.Category,
		item.Price, item.Cost, item.Weight, item.MetalType, item.StoneType, item.StockQuantity)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode %s", ErrConflict, item.Barcode)
		}
		logger.Error("Failed to create item", "barcode", item.Barcode, "error", err)
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get item ID: %w", err)
	}

	logger.Info("Item created", "barcode", item.Barcode, "item_id", id)
	return s.GetItem(ctx, id)
}

func (s *Store) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	var item models.Item
	err := s.DB().GetContext(ctx, &item, itemSelect+" WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("item", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

func (s *Store) GetItemByBarcode(ctx context.Context, barcode string) (*models.Item, error) {
	barcode = strings.TrimSpace(barcode)
	var item models.Item
	err := s.DB().GetContext(ctx, &item, itemSelect+" WHERE barcode = ?", barcode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("item with barcode", barcode)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &item, nil
}

// ListItems returns every item, most recently changed first.
func (s *Store) ListItems(ctx context.Context) ([]models.Item, error) {
	items := []models.Item{}
	if err := s.DB().SelectContext(ctx, &items, itemSelect+" ORDER BY updated_at DESC, name"); err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	return items, nil
}

// UpdateItem applies the non-nil fields of update and refreshes updated_at.
func (s *Store) UpdateItem(ctx context.Context, id int64, update models.ItemUpdate) (*models.Item, error) {
	if update.IsEmpty() {
		return nil, validationError("no fields to update")
	}

	var sets []string
	var args []interface{}
	set := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if update.Barcode != nil {
		barcode := strings.TrimSpace(*update.Barcode)
		if barcode == "" {
			return nil, validationError("barcode must not be empty")
		}
		set("barcode", barcode)
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, validationError("name must not be empty")
		}
		set("name", name)
	}
	if update.Description != nil {
		set("description", *update.Description)
	}
	if update.Category != nil {
		category := strings.TrimSpace(*update.Category)
		if category == "" {
			return nil, validationError("category must not be empty")
		}
		set("category", category)
	}
	for _, f := range []struct {
		column string
		value  *float64
	}{{"price", update.Price}, {"cost", update.Cost}, {"weight", update.Weight}} {
		if f.value == nil {
			continue
		}
		if *f.value < 0 {
			return nil, validationError("%s must not be negative", f.column)
		}
		set(f.column, *f.value)
	}
	if update.MetalType != nil {
		set("metal_type", *update.MetalType)
	}
	if update.StoneType != nil {
		set("stone_type", *update.StoneType)
	}
	if update.StockQuantity != nil {
		if *update.StockQuantity < 0 {
			return nil, validationError("stock quantity must not be negative")
		}
		set("stock_quantity", *update.StockQuantity)
	}

	sets = append(sets, "updated_at = datetime('now', 'localtime')")
	args = append(args, id)
	query := "UPDATE items SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	result, err := s.DB().ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode %s", ErrConflict, *update.Barcode)
		}
		logger.Error("Failed to update item", "item_id", id, "error", err)
		return nil, fmt.Errorf("failed to update item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, notFound("item", id)
	}

	logger.Info("Item updated", "item_id", id)
	return s.GetItem(ctx, id)
}

// DeleteItem removes an item and its shop stock. Items with recorded sales
// or audit results cannot be deleted.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	result, err := s.DB().ExecContext(ctx, "DELETE FROM items WHERE id = ?", id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: item %d is referenced by sales or audits", ErrConflict, id)
		}
		return fmt.Errorf("failed to delete item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound("item", id)
	}

	logger.Info("Item deleted", "item_id", id)
	return nil
}

// SearchItems matches term against the descriptive columns. Name matches
// rank first, then barcode, then category, then the rest, each group sorted
// by name. An empty term yields no results.
func (s *Store) SearchItems(ctx context.Context, term string) ([]models.Item, error) {
	term = strings.TrimSpace(term)
	items := []models.Item{}
	if term == "" {
		return items, nil
	}

	pattern := "%" + escapeLike(term) + "%"
	query := itemSelect + `
		WHERE name LIKE ? ESCAPE '\'
		   OR description LIKE ? ESCAPE '\'
		   OR category LIKE ? ESCAPE '\'
		   OR barcode LIKE ? ESCAPE '\'
		   OR metal_type LIKE ? ESCAPE '\'
		   OR stone_type LIKE ? ESCAPE '\'
		ORDER BY
			CASE
				WHEN name LIKE ? ESCAPE '\' THEN 1
				WHEN barcode LIKE ? ESCAPE '\' THEN 2
				WHEN category LIKE ? ESCAPE '\' THEN 3
				ELSE 4
			END,
			name`

	args := make([]interface{}, 9)
	for i := range args {
		args[i] = pattern
	}

	if err := s.DB().SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search items: %w", err)
	}
	return items, nil
}

func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}
