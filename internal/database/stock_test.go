package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func totalUnits(t *testing.T, store *Store, barcode string) int {
	t.Helper()
	var total int
	require.NoError(t, store.DB().Get(&total, `
		SELECT i.stock_quantity + COALESCE((SELECT SUM(quantity) FROM shop_items WHERE item_id = i.id), 0)
		FROM items i WHERE i.barcode = ?`, barcode))
	return total
}

func TestMoveAndSellScenario(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1234567", 10)

	require.NoError(t, store.MoveItemToShop(ctx, "Магазин 1", "1234567", 4))

	item, err := store.GetItemByBarcode(ctx, "1234567")
	require.NoError(t, err)
	assert.Equal(t, 6, item.StockQuantity)
	stocked, err := store.GetShopItem(ctx, "Магазин 1", "1234567")
	require.NoError(t, err)
	assert.Equal(t, 4, stocked.Quantity)

	sale, err := store.SellFromShop(ctx, "Магазин 1", "1234567", 2, 240)
	require.NoError(t, err)
	assert.Equal(t, 2, sale.Quantity)
	require.NotNil(t, sale.ShopID)

	stocked, err = store.GetShopItem(ctx, "Магазин 1", "1234567")
	require.NoError(t, err)
	assert.Equal(t, 2, stocked.Quantity)
	assert.Equal(t, 1, countRows(t, store, "sales"))

	item, err = store.GetItemByBarcode(ctx, "1234567")
	require.NoError(t, err)
	assert.Equal(t, 6, item.StockQuantity)
}

func TestMoveItemToShopConservesUnits(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1234567", 10)
	_, err := store.AddShop(ctx, "Център")
	require.NoError(t, err)

	before := totalUnits(t, store, "1234567")
	require.NoError(t, store.MoveItemToShop(ctx, "Център", "1234567", 3))
	require.NoError(t, store.MoveItemToShop(ctx, "Център", "1234567", 2))
	require.NoError(t, store.MoveItemToShop(ctx, DefaultShopName, "1234567", 1))
	require.NoError(t, store.TransferBetweenShops(ctx, "Център", DefaultShopName, "1234567", 1))
	require.NoError(t, store.ReturnItemToWarehouse(ctx, DefaultShopName, "1234567", 2))
	assert.Equal(t, before, totalUnits(t, store, "1234567"))

	center, err := store.GetShopItem(ctx, "Център", "1234567")
	require.NoError(t, err)
	assert.Equal(t, 4, center.Quantity)
	main, err := store.GetShopItem(ctx, DefaultShopName, "1234567")
	require.NoError(t, err)
	assert.Equal(t, 0, main.Quantity)
	item, err := store.GetItemByBarcode(ctx, "1234567")
	require.NoError(t, err)
	assert.Equal(t, 6, item.StockQuantity)
}

func TestMoveItemToShopRejectsOverdraw(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1234567", 3)

	err := store.MoveItemToShop(ctx, DefaultShopName, "1234567", 4)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	item, err := store.GetItemByBarcode(ctx, "1234567")
	require.NoError(t, err)
	assert.Equal(t, 3, item.StockQuantity)
	assert.Equal(t, 0, countRows(t, store, "shop_items"))
}

func TestMoveItemToShopErrors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1234567", 3)

	assert.ErrorIs(t, store.MoveItemToShop(ctx, DefaultShopName, "0000000", 1), ErrNotFound)
	assert.ErrorIs(t, store.MoveItemToShop(ctx, "Няма такъв", "1234567", 1), ErrNotFound)
	assert.ErrorIs(t, store.MoveItemToShop(ctx, DefaultShopName, "1234567", 0), ErrValidation)
	assert.ErrorIs(t, store.MoveItemToShop(ctx, DefaultShopName, "1234567", -2), ErrValidation)
}

func TestShopStockNeverNegative(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1234567", 5)
	require.NoError(t, store.MoveItemToShop(ctx, DefaultShopName, "1234567", 2))

	assert.ErrorIs(t, store.ReturnItemToWarehouse(ctx, DefaultShopName, "1234567", 3), ErrInsufficientStock)
	_, err := store.SellFromShop(ctx, DefaultShopName, "1234567", 3, 10)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 0, countRows(t, store, "sales"))

	_, err = store.AddShop(ctx, "Празен")
	require.NoError(t, err)
	assert.ErrorIs(t, store.TransferBetweenShops(ctx, "Празен", DefaultShopName, "1234567", 1), ErrNotFound)

	stocked, err := store.GetShopItem(ctx, DefaultShopName, "1234567")
	require.NoError(t, err)
	assert.Equal(t, 2, stocked.Quantity)
}

func TestZeroQuantityRowKeptUntilRemoved(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1234567", 5)
	require.NoError(t, store.MoveItemToShop(ctx, DefaultShopName, "1234567", 1))

	_, err := store.SellFromShop(ctx, DefaultShopName, "1234567", 1, 120)
	require.NoError(t, err)

	stocked, err := store.GetShopItem(ctx, DefaultShopName, "1234567")
	require.NoError(t, err)
	assert.Equal(t, 0, stocked.Quantity)

	require.NoError(t, store.RemoveItemFromShop(ctx, DefaultShopName, "1234567"))
	_, err = store.GetShopItem(ctx, DefaultShopName, "1234567")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.RemoveItemFromShop(ctx, DefaultShopName, "1234567"), ErrNotFound)
}

func TestAddAndSetShopItemQuantity(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1234567", 5)

	require.NoError(t, store.AddItemToShop(ctx, DefaultShopName, "1234567", 7))
	item, err := store.GetItemByBarcode(ctx, "1234567")
	require.NoError(t, err)
	assert.Equal(t, 5, item.StockQuantity)

	require.NoError(t, store.SetShopItemQuantity(ctx, DefaultShopName, "1234567", 3))
	items, err := store.GetShopItems(ctx, DefaultShopName)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, "Злато", items[0].MetalType)

	assert.ErrorIs(t, store.SetShopItemQuantity(ctx, DefaultShopName, "1234567", -1), ErrValidation)
}

func TestAddShopReturnsExisting(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first, err := store.AddShop(ctx, "Център")
	require.NoError(t, err)
	second, err := store.AddShop(ctx, " Център ")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = store.AddShop(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)

	shops, err := store.ListShops(ctx)
	require.NoError(t, err)
	assert.Len(t, shops, 2)
}

func TestRenameShop(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	_, err := store.AddShop(ctx, "Център")
	require.NoError(t, err)

	assert.ErrorIs(t, store.RenameShop(ctx, "Център", DefaultShopName), ErrConflict)
	assert.ErrorIs(t, store.RenameShop(ctx, "Липсващ", "Нов"), ErrNotFound)

	require.NoError(t, store.RenameShop(ctx, "Център", "Мол"))
	_, err = store.GetShop(ctx, "Център")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetShop(ctx, "Мол")
	assert.NoError(t, err)
}

func TestDeleteShopRemovesStockFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1234567", 10)
	createTestItem(t, store, "7654321", 10)
	_, err := store.AddShop(ctx, "Център")
	require.NoError(t, err)
	require.NoError(t, store.MoveItemToShop(ctx, "Център", "1234567", 2))
	require.NoError(t, store.MoveItemToShop(ctx, "Център", "7654321", 1))
	require.NoError(t, store.MoveItemToShop(ctx, DefaultShopName, "7654321", 1))
	sale, err := store.SellFromShop(ctx, "Център", "1234567", 1, 100)
	require.NoError(t, err)

	require.NoError(t, store.DeleteShop(ctx, "Център"))

	_, err = store.GetShop(ctx, "Център")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, countRows(t, store, "shop_items"))

	var shopID *int64
	require.NoError(t, store.DB().Get(&shopID, "SELECT shop_id FROM sales WHERE id = ?", sale.ID))
	assert.Nil(t, shopID)

	assert.ErrorIs(t, store.DeleteShop(ctx, "Център"), ErrNotFound)
}

func TestGetShopItemsRecentFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1111111", 5)
	createTestItem(t, store, "2222222", 5)
	createTestItem(t, store, "3333333", 5)
	for _, barcode := range []string{"1111111", "2222222", "3333333"} {
		require.NoError(t, store.MoveItemToShop(ctx, DefaultShopName, barcode, 1))
	}

	_, err := store.DB().Exec(`UPDATE shop_items SET updated_at = CASE item_id
		WHEN (SELECT id FROM items WHERE barcode = '1111111') THEN '2024-05-01 10:00:00'
		WHEN (SELECT id FROM items WHERE barcode = '2222222') THEN '2024-05-03 10:00:00'
		ELSE '2024-05-03 10:00:00' END`)
	require.NoError(t, err)

	items, err := store.GetShopItems(ctx, DefaultShopName)
	require.NoError(t, err)
	require.Len(t, items, 3)

	var barcodes []string
	for _, item := range items {
		barcodes = append(barcodes, item.Barcode)
	}
	// Equal timestamps fall back to the item name.
	assert.Equal(t, []string{"2222222", "3333333", "1111111"}, barcodes)
}
