package database

import (
	"context"
	"fmt"

	"jms/internal/logger"
)

type AdminStats struct {
	TotalItems     int `json:"total_items" db:"total_items"`
	WarehouseUnits int `json:"warehouse_units" db:"warehouse_units"`
	TotalShops     int `json:"total_shops" db:"total_shops"`
	ShopUnits      int `json:"shop_units" db:"shop_units"`
	TotalSales     int `json:"total_sales" db:"total_sales"`
	UnitsSold      int `json:"units_sold" db:"units_sold"`
	TotalUsers     int `json:"total_users" db:"total_users"`
	AuditSessions  int `json:"audit_sessions" db:"audit_sessions"`
}

func (s *Store) GetAdminStats(ctx context.Context) (*AdminStats, error) {
	stats := &AdminStats{}
	err := s.DB().GetContext(ctx, stats, `
		SELECT
			(SELECT COUNT(*) FROM items) AS total_items,
			(SELECT COALESCE(SUM(stock_quantity), 0) FROM items) AS warehouse_units,
			(SELECT COUNT(*) FROM shops) AS total_shops,
			(SELECT COALESCE(SUM(quantity), 0) FROM shop_items) AS shop_units,
			(SELECT COUNT(*) FROM sales) AS total_sales,
			(SELECT COALESCE(SUM(quantity), 0) FROM sales) AS units_sold,
			(SELECT COUNT(*) FROM users) AS total_users,
			(SELECT COUNT(*) FROM audit_sessions) AS audit_sessions`)
	if err != nil {
		return nil, fmt.Errorf("failed to get admin stats: %w", err)
	}
	return stats, nil
}

// factoryResetOrder deletes children before parents.
var factoryResetOrder = []string{
	"audit_results", "audit_sessions", "sales", "shop_items", "items",
	"custom_values", "shops", "users", "master_keys", "barcode_sequence",
}

// FactoryReset wipes all business data and reseeds the default shop, the
// default administrator and the barcode sequence.
func (s *Store) FactoryReset(ctx context.Context) error {
	tx, err := s.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range factoryResetOrder {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+QuoteIdent(table)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sqlite_sequence"); err != nil {
		return fmt.Errorf("failed to reset id sequences: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO shops (name) VALUES (?)", DefaultShopName); err != nil {
		return fmt.Errorf("failed to create default shop: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit factory reset: %w", err)
	}

	if err := s.Reinitialize(ctx); err != nil {
		return err
	}

	logger.Warn("Factory reset completed", "path", s.path)
	return nil
}
