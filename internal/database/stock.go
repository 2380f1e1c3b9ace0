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

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func validateQuantity(quantity int) error {
	if quantity <= 0 {
		return validationError("quantity must be positive, got %d", quantity)
	}
	return nil
}

func itemIDByBarcode(ctx context.Context, q queryer, barcode string) (int64, error) {
	barcode = strings.TrimSpace(barcode)
	var id int64
	err := q.GetContext(ctx, &id, "SELECT id FROM items WHERE barcode = ?", barcode)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound("item with barcode", barcode)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get item: %w", err)
	}
	return id, nil
}

// takeFromWarehouse refuses to drive stock_quantity below zero.
func takeFromWarehouse(ctx context.Context, q queryer, itemID int64, quantity int) error {
	result, err := q.ExecContext(ctx, `
		UPDATE items
		SET stock_quantity = stock_quantity - ?, updated_at = datetime('now', 'localtime')
		WHERE id = ? AND stock_quantity >= ?`, quantity, itemID, quantity)
	if err != nil {
		return fmt.Errorf("failed to decrement warehouse stock: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: warehouse holds fewer than %d units of item %d", ErrInsufficientStock, quantity, itemID)
	}
	return nil
}

func addToWarehouse(ctx context.Context, q queryer, itemID int64, quantity int) error {
	_, err := q.ExecContext(ctx, `
		UPDATE items
		SET stock_quantity = stock_quantity + ?, updated_at = datetime('now', 'localtime')
		WHERE id = ?`, quantity, itemID)
	if err != nil {
		return fmt.Errorf("failed to increment warehouse stock: %w", err)
	}
	return nil
}

func addToShop(ctx context.Context, q queryer, shopID, itemID int64, quantity int) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO shop_items (shop_id, item_id, quantity)
		VALUES (?, ?, ?)
		ON CONFLICT(shop_id, item_id) DO UPDATE SET
			quantity = quantity + excluded.quantity,
			updated_at = datetime('now', 'localtime')`, shopID, itemID, quantity)
	if err != nil {
		return fmt.Errorf("failed to increment shop stock: %w", err)
	}
	return nil
}

// takeFromShop refuses to drive a shop quantity below zero.
func takeFromShop(ctx context.Context, q queryer, shopID, itemID int64, quantity int) error {
	result, err := q.ExecContext(ctx, `
		UPDATE shop_items
		SET quantity = quantity - ?, updated_at = datetime('now', 'localtime')
		WHERE shop_id = ? AND item_id = ? AND quantity >= ?`, quantity, shopID, itemID, quantity)
	if err != nil {
		return fmt.Errorf("failed to decrement shop stock: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var stocked int
	if err := q.GetContext(ctx, &stocked,
		"SELECT COUNT(*) FROM shop_items WHERE shop_id = ? AND item_id = ?", shopID, itemID); err != nil {
		return fmt.Errorf("failed to check shop stock: %w", err)
	}
	if stocked == 0 {
		return fmt.Errorf("%w: item %d is not stocked in shop %d", ErrNotFound, itemID, shopID)
	}
	return fmt.Errorf("%w: shop %d holds fewer than %d units of item %d", ErrInsufficientStock, shopID, quantity, itemID)
}

// transfer runs move inside one transaction after resolving the shop and item.
func (s *Store) transfer(ctx context.Context, op, shopName, barcode string, quantity int,
	move func(tx queryer, shopID, itemID int64) error) error {
	if err := validateQuantity(quantity); err != nil {
		return err
	}

	tx, err := s.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	shop, err := shopID(ctx, tx, shopName)
	if err != nil {
		return err
	}
	itemID, err := itemIDByBarcode(ctx, tx, barcode)
	if err != nil {
		return err
	}

	if err := move(tx, shop, itemID); err != nil {
		logger.Warn("Stock movement rejected", "op", op, "shop", shopName, "barcode", barcode,
			"quantity", quantity, "error", err)
		return err
	}

	if err := tx.Commit(); err != nil {
		logger.Error("Failed to commit stock movement", "op", op, "error", err)
		return fmt.Errorf("failed to commit %s: %w", op, err)
	}

	logger.Info("Stock moved", "op", op, "shop", shopName, "barcode", barcode, "quantity", quantity)
	return nil
}

// MoveItemToShop moves quantity units from the warehouse into a shop.
func (s *Store) MoveItemToShop(ctx context.Context, shopName, barcode string, quantity int) error {
	return s.transfer(ctx, "move_to_shop", shopName, barcode, quantity, func(tx queryer, shopID, itemID int64) error {
		if err := takeFromWarehouse(ctx, tx, itemID, quantity); err != nil {
			return err
		}
		return addToShop(ctx, tx, shopID, itemID, quantity)
	})
}

// ReturnItemToWarehouse moves quantity units from a shop back to the warehouse.
func (s *Store) ReturnItemToWarehouse(ctx context.Context, shopName, barcode string, quantity int) error {
	return s.transfer(ctx, "return_to_warehouse", shopName, barcode, quantity, func(tx queryer, shopID, itemID int64) error {
		if err := takeFromShop(ctx, tx, shopID, itemID, quantity); err != nil {
			return err
		}
		return addToWarehouse(ctx, tx, itemID, quantity)
	})
}

func (s *Store) TransferBetweenShops(ctx context.Context, fromShop, toShop, barcode string, quantity int) error {
	if strings.TrimSpace(fromShop) == strings.TrimSpace(toShop) {
		return validationError("source and target shop are the same")
	}
	return s.transfer(ctx, "shop_to_shop", fromShop, barcode, quantity, func(tx queryer, fromID, itemID int64) error {
		toID, err := shopID(ctx, tx, toShop)
		if err != nil {
			return err
		}
		if err := takeFromShop(ctx, tx, fromID, itemID, quantity); err != nil {
			return err
		}
		return addToShop(ctx, tx, toID, itemID, quantity)
	})
}

// AddItemToShop books goods received directly by a shop. The warehouse is
// not touched.
func (s *Store) AddItemToShop(ctx context.Context, shopName, barcode string, quantity int) error {
	return s.transfer(ctx, "receive_in_shop", shopName, barcode, quantity, func(tx queryer, shopID, itemID int64) error {
		return addToShop(ctx, tx, shopID, itemID, quantity)
	})
}

// SetShopItemQuantity overwrites a shop count, e.g. after a stock take.
func (s *Store) SetShopItemQuantity(ctx context.Context, shopName, barcode string, quantity int) error {
	if quantity < 0 {
		return validationError("quantity must not be negative")
	}

	db := s.DB()
	shop, err := shopID(ctx, db, shopName)
	if err != nil {
		return err
	}
	itemID, err := itemIDByBarcode(ctx, db, barcode)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, `
		UPDATE shop_items SET quantity = ?, updated_at = datetime('now', 'localtime')
		WHERE shop_id = ? AND item_id = ?`, quantity, shop, itemID)
	if err != nil {
		return fmt.Errorf("failed to update shop item: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s is not stocked in %s", ErrNotFound, barcode, shopName)
	}
	return nil
}

// RemoveItemFromShop deletes the shop stock row. Rows that reach zero are
// kept until this is called.
func (s *Store) RemoveItemFromShop(ctx context.Context, shopName, barcode string) error {
	db := s.DB()
	shop, err := shopID(ctx, db, shopName)
	if err != nil {
		return err
	}
	itemID, err := itemIDByBarcode(ctx, db, barcode)
	if err != nil {
		return err
	}

	result, err := db.ExecContext(ctx, "DELETE FROM shop_items WHERE shop_id = ? AND item_id = ?", shop, itemID)
	if err != nil {
		return fmt.Errorf("failed to remove item from shop: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s is not stocked in %s", ErrNotFound, barcode, shopName)
	}

	logger.Info("Item removed from shop", "shop", shopName, "barcode", barcode)
	return nil
}

const shopItemSelect = `
	SELECT si.shop_id, si.item_id, i.barcode, i.name, i.category, i.price, i.cost,
	       COALESCE(i.weight, 0) AS weight,
	       COALESCE(i.metal_type, '') AS metal_type, COALESCE(i.stone_type, '') AS stone_type,
	       si.quantity, si.updated_at
	FROM shop_items si
	JOIN items i ON i.id = si.item_id`

func (s *Store) GetShopItems(ctx context.Context, shopName string) ([]models.ShopItem, error) {
	db := s.DB()
	shop, err := shopID(ctx, db, shopName)
	if err != nil {
		return nil, err
	}

	items := []models.ShopItem{}
	if err := db.SelectContext(ctx, &items, shopItemSelect+" WHERE si.shop_id = ? ORDER BY si.updated_at DESC, i.name", shop); err != nil {
		return nil, fmt.Errorf("failed to query shop items: %w", err)
	}
	return items, nil
}

// GetShopItem returns one shop stock row.
func (s *Store) GetShopItem(ctx context.Context, shopName, barcode string) (*models.ShopItem, error) {
	db := s.DB()
	shop, err := shopID(ctx, db, shopName)
	if err != nil {
		return nil, err
	}

	var item models.ShopItem
	err = db.GetContext(ctx, &item, shopItemSelect+" WHERE si.shop_id = ? AND i.barcode = ?", shop, strings.TrimSpace(barcode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s is not stocked in %s", ErrNotFound, barcode, shopName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shop item: %w", err)
	}
	return &item, nil
}
