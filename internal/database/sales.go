package database

import (
	"context"
	"fmt"
	"time"

	"jms/internal/logger"
	"jms/internal/models"
)

func validateSale(quantity int, totalPrice float64) error {
	if err := validateQuantity(quantity); err != nil {
		return err
	}
	if totalPrice < 0 {
		return validationError("total price must not be negative")
	}
	return nil
}

// AddSale records a sale straight from the warehouse. The sale row and the
// stock decrement commit together.
func (s *Store) AddSale(ctx context.Context, itemID int64, quantity int, totalPrice float64) (*models.Sale, error) {
	if err := validateSale(quantity, totalPrice); err != nil {
		return nil, err
	}

	tx, err := s.DB().BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.GetContext(ctx, &exists, "SELECT COUNT(*) FROM items WHERE id = ?", itemID); err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if exists == 0 {
		return nil, notFound("item", itemID)
	}

	if err := takeFromWarehouse(ctx, tx, itemID, quantity); err != nil {
		logger.Warn("Sale rejected", "item_id", itemID, "quantity", quantity, "error", err)
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		"INSERT INTO sales (item_id, quantity, total_price) VALUES (?, ?, ?)", itemID, quantity, totalPrice)
	if err != nil {
		return nil, fmt.Errorf("failed to record sale: %w", err)
	}
	saleID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get sale ID: %w", err)
	}

	var sale models.Sale
	if err := tx.GetContext(ctx, &sale, "SELECT id, item_id, shop_id, quantity, total_price, sale_date FROM sales WHERE id = ?", saleID); err != nil {
		return nil, fmt.Errorf("failed to read sale: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sale: %w", err)
	}

	logger.Info("Sale recorded", "item_id", itemID, "quantity", quantity, "total_price", totalPrice)
	return &sale, nil
}

// SellFromShop records a sale out of a shop's stock.
func (s *Store) SellFromShop(ctx context.Context, shopName, barcode string, quantity int, totalPrice float64) (*models.Sale, error) {
	if err := validateSale(quantity, totalPrice); err != nil {
		return nil, err
	}

	tx, err := s.DB().BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	shop, err := shopID(ctx, tx, shopName)
	if err != nil {
		return nil, err
	}
	itemID, err := itemIDByBarcode(ctx, tx, barcode)
	if err != nil {
		return nil, err
	}

	if err := takeFromShop(ctx, tx, shop, itemID, quantity); err != nil {
		logger.Warn("Sale rejected", "shop", shopName, "barcode", barcode, "quantity", quantity, "error", err)
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		"INSERT INTO sales (item_id, quantity, total_price, shop_id) VALUES (?, ?, ?, ?)", itemID, quantity, totalPrice, shop)
	if err != nil {
		return nil, fmt.Errorf("failed to record sale: %w", err)
	}
	saleID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get sale ID: %w", err)
	}

	var sale models.Sale
	if err := tx.GetContext(ctx, &sale, "SELECT id, item_id, shop_id, quantity, total_price, sale_date FROM sales WHERE id = ?", saleID); err != nil {
		return nil, fmt.Errorf("failed to read sale: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit sale: %w", err)
	}

	logger.Info("Sale recorded", "shop", shopName, "barcode", barcode, "quantity", quantity, "total_price", totalPrice)
	return &sale, nil
}

// SalesReport lists sales between from and to inclusive, newest first. A
// zero bound is open.
func (s *Store) SalesReport(ctx context.Context, from, to time.Time) ([]models.SaleRecord, error) {
	query := `
		SELECT s.id, s.item_id, s.shop_id, s.quantity, s.total_price, s.sale_date,
		       i.barcode, i.name AS item_name, i.cost AS unit_cost,
		       COALESCE(sh.name, '') AS shop_name
		FROM sales s
		JOIN items i ON i.id = s.item_id
		LEFT JOIN shops sh ON sh.id = s.shop_id
		WHERE 1 = 1`
	var args []interface{}
	if !from.IsZero() {
		query += " AND s.sale_date >= ?"
		args = append(args, from.Format(models.TimestampLayout))
	}
	if !to.IsZero() {
		query += " AND s.sale_date <= ?"
		args = append(args, to.Format(models.TimestampLayout))
	}
	query += " ORDER BY s.sale_date DESC, s.id DESC"

	records := []models.SaleRecord{}
	if err := s.DB().SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	return records, nil
}
