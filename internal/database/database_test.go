package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jms/internal/logger"
	"jms/internal/models"
)

func TestMain(m *testing.M) {
	logger.Set(zap.NewNop())
	os.Exit(m.Run())
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "jewelry.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestItem(t *testing.T, store *Store, barcode string, stock int) *models.Item {
	t.Helper()

	item, err := store.CreateItem(context.Background(), models.Item{
		Barcode:       barcode,
		Name:          "Пръстен " + barcode,
		Category:      "Пръстени",
		Price:         120,
		Cost:          80,
		Weight:        3.5,
		MetalType:     "Злато",
		StoneType:     "Диамант",
		StockQuantity: stock,
	})
	require.NoError(t, err)
	return item
}

func countRows(t *testing.T, store *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, store.DB().Get(&n, "SELECT COUNT(*) FROM "+QuoteIdent(table)))
	return n
}

func schemaSnapshot(t *testing.T, store *Store) []string {
	t.Helper()
	var sqls []string
	require.NoError(t, store.DB().Select(&sqls, "SELECT sql FROM sqlite_master WHERE sql IS NOT NULL ORDER BY name"))
	return sqls
}

func TestOpenCreatesSchemaAndDefaults(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables, err := store.Tables(ctx)
	require.NoError(t, err)
	for _, table := range []string{"items", "shops", "shop_items", "sales", "users", "custom_values",
		"barcode_sequence", "audit_sessions", "audit_results", "master_keys"} {
		assert.Contains(t, tables, table)
	}
	assert.NotContains(t, tables, "sqlite_sequence")

	shop, err := store.GetShop(ctx, DefaultShopName)
	require.NoError(t, err)
	assert.Equal(t, DefaultShopName, shop.Name)

	admin, err := store.VerifyUser(ctx, DefaultAdminUsername, DefaultAdminPassword)
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())

	next, err := store.PeekBarcode(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultBarcodeStart), next)
}

func TestInitializeIsIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	before := schemaSnapshot(t, store)
	require.NoError(t, store.Initialize(ctx))
	require.NoError(t, store.Initialize(ctx))

	assert.Equal(t, before, schemaSnapshot(t, store))
	assert.Equal(t, 1, countRows(t, store, "users"))
	assert.Equal(t, 1, countRows(t, store, "shops"))
	assert.Equal(t, 1, countRows(t, store, "barcode_sequence"))
}

func TestInitializeMigratesOlderSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	legacy, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE items (id INTEGER PRIMARY KEY AUTOINCREMENT, barcode TEXT UNIQUE NOT NULL, name TEXT NOT NULL,
			description TEXT, category TEXT NOT NULL, price REAL NOT NULL, cost REAL NOT NULL, weight REAL,
			metal_type TEXT, stone_type TEXT, stock_quantity INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT (datetime('now', 'localtime')),
			updated_at TIMESTAMP DEFAULT (datetime('now', 'localtime')))`,
		`CREATE TABLE shops (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP DEFAULT (datetime('now', 'localtime')))`,
		`CREATE TABLE sales (id INTEGER PRIMARY KEY AUTOINCREMENT, item_id INTEGER NOT NULL, quantity INTEGER NOT NULL,
			total_price REAL NOT NULL, sale_date TIMESTAMP DEFAULT (datetime('now', 'localtime')))`,
		`CREATE TABLE shop_items (id INTEGER PRIMARY KEY AUTOINCREMENT, shop_id INTEGER NOT NULL, item_id INTEGER NOT NULL,
			quantity INTEGER NOT NULL DEFAULT 0, created_at TIMESTAMP DEFAULT (datetime('now', 'localtime')),
			UNIQUE(shop_id, item_id))`,
		`CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL, role TEXT NOT NULL, created_at TIMESTAMP DEFAULT (datetime('now', 'localtime')))`,
		`INSERT INTO shops (name) VALUES ('Стар магазин')`,
		`INSERT INTO items (barcode, name, category, price, cost, stock_quantity) VALUES ('555', 'Гривна', 'Гривни', 50, 20, 3)`,
		`INSERT INTO shop_items (shop_id, item_id, quantity, created_at) VALUES (1, 1, 2, '2024-01-02 10:00:00')`,
	} {
		_, err := legacy.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, legacy.Close())

	store, err := Open(context.Background(), path, Options{})
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	has, err := store.hasColumn(ctx, "shop_items", "updated_at")
	require.NoError(t, err)
	assert.True(t, has)
	has, err = store.hasColumn(ctx, "sales", "shop_id")
	require.NoError(t, err)
	assert.True(t, has)

	var updatedAt string
	require.NoError(t, store.DB().Get(&updatedAt, "SELECT CAST(updated_at AS TEXT) FROM shop_items WHERE id = 1"))
	assert.Equal(t, "2024-01-02 10:00:00", updatedAt)

	// Existing data is kept and no default shop is added to a database that has shops.
	assert.Equal(t, 1, countRows(t, store, "shops"))
	assert.Equal(t, 1, countRows(t, store, "users"))

	stocked, err := store.GetShopItem(ctx, "Стар магазин", "555")
	require.NoError(t, err)
	assert.Equal(t, 2, stocked.Quantity)
}

func TestInitializeCreatesMissingNonCoreTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core-only.db")

	legacy, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE items (id INTEGER PRIMARY KEY AUTOINCREMENT, barcode TEXT UNIQUE NOT NULL, name TEXT NOT NULL,
			description TEXT, category TEXT NOT NULL, price REAL NOT NULL, cost REAL NOT NULL, weight REAL,
			metal_type TEXT, stone_type TEXT, stock_quantity INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT (datetime('now', 'localtime')))`,
		`CREATE TABLE shops (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP DEFAULT (datetime('now', 'localtime')))`,
		`CREATE TABLE sales (id INTEGER PRIMARY KEY AUTOINCREMENT, item_id INTEGER NOT NULL, quantity INTEGER NOT NULL,
			total_price REAL NOT NULL, sale_date TIMESTAMP DEFAULT (datetime('now', 'localtime')))`,
		`CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL, role TEXT NOT NULL, created_at TIMESTAMP DEFAULT (datetime('now', 'localtime')))`,
		`INSERT INTO shops (name) VALUES ('Стар магазин')`,
		`INSERT INTO items (barcode, name, category, price, cost, stock_quantity) VALUES ('555', 'Гривна', 'Гривни', 50, 20, 3)`,
	} {
		_, err := legacy.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, legacy.Close())

	ctx := context.Background()
	store, err := Open(ctx, path, Options{})
	require.NoError(t, err)
	defer store.Close()

	tables, err := store.Tables(ctx)
	require.NoError(t, err)
	assert.Contains(t, tables, "shop_items")

	has, err := store.hasColumn(ctx, "items", "updated_at")
	require.NoError(t, err)
	assert.True(t, has)

	var indexes int
	require.NoError(t, store.DB().Get(&indexes,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_shop_items_shop_id'"))
	assert.Equal(t, 1, indexes)

	assert.Equal(t, 1, countRows(t, store, "shops"))
	require.NoError(t, store.MoveItemToShop(ctx, "Стар магазин", "555", 2))
	stocked, err := store.GetShopItem(ctx, "Стар магазин", "555")
	require.NoError(t, err)
	assert.Equal(t, 2, stocked.Quantity)

	before := schemaSnapshot(t, store)
	require.NoError(t, store.Initialize(ctx))
	assert.Equal(t, before, schemaSnapshot(t, store))
}

func TestClosedStoreReturnsErrors(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	assert.NotPanics(t, func() {
		_, err := store.GetShop(context.Background(), DefaultShopName)
		assert.Error(t, err)
	})
}

// hammer calls fn from several goroutines until stop is closed and returns
// any panics it recovered.
func hammer(t *testing.T, stop <-chan struct{}, fn func()) func() []string {
	t.Helper()

	var (
		mu     sync.Mutex
		panics []string
		wg     sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							mu.Lock()
							panics = append(panics, fmt.Sprint(r))
							mu.Unlock()
						}
					}()
					fn()
				}()
			}
		}()
	}
	return func() []string {
		wg.Wait()
		return panics
	}
}

func TestReinitializeUnderConcurrentReads(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1234567", 10)

	stop := make(chan struct{})
	wait := hammer(t, stop, func() {
		_, _ = store.GetShop(ctx, DefaultShopName)
		_, _ = store.GetItemByBarcode(ctx, "1234567")
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Reinitialize(ctx))
	}
	close(stop)
	assert.Empty(t, wait())

	item, err := store.GetItemByBarcode(ctx, "1234567")
	require.NoError(t, err)
	assert.Equal(t, 10, item.StockQuantity)
}

func TestReplaceReopensAfterFailedSwap(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1234567", 10)

	swapErr := errors.New("rename failed")
	err := store.Replace(ctx, func() error { return swapErr })
	assert.ErrorIs(t, err, swapErr)

	item, err := store.GetItemByBarcode(ctx, "1234567")
	require.NoError(t, err)
	assert.Equal(t, 10, item.StockQuantity)
}

func TestOpenFailsOnUnusableDirectory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := Open(context.Background(), filepath.Join(blocker, "jewelry.db"), Options{})
	assert.Error(t, err)

	_, err = Open(context.Background(), "   ", Options{})
	assert.Error(t, err)
}

func TestReinitializeKeepsData(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1234567", 10)

	require.NoError(t, store.Reinitialize(ctx))

	item, err := store.GetItemByBarcode(ctx, "1234567")
	require.NoError(t, err)
	assert.Equal(t, 10, item.StockQuantity)
}

func TestFactoryReset(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1234567", 10)
	_, err := store.AddShop(ctx, "Център")
	require.NoError(t, err)
	_, err = store.NextBarcode(ctx)
	require.NoError(t, err)

	require.NoError(t, store.FactoryReset(ctx))

	assert.Equal(t, 0, countRows(t, store, "items"))
	assert.Equal(t, 1, countRows(t, store, "shops"))
	_, err = store.VerifyUser(ctx, DefaultAdminUsername, DefaultAdminPassword)
	assert.NoError(t, err)
	next, err := store.PeekBarcode(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultBarcodeStart), next)
}

func TestAdminStats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1234567", 10)
	require.NoError(t, store.MoveItemToShop(ctx, DefaultShopName, "1234567", 4))

	stats, err := store.GetAdminStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalItems)
	assert.Equal(t, 6, stats.WarehouseUnits)
	assert.Equal(t, 4, stats.ShopUnits)
	assert.Equal(t, 1, stats.TotalUsers)
}
