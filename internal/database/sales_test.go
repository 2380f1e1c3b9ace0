package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSaleFromWarehouse(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	item := createTestItem(t, store, "1234567", 5)

	sale, err := store.AddSale(ctx, item.ID, 2, 240)
	require.NoError(t, err)
	assert.Equal(t, item.ID, sale.ItemID)
	assert.Nil(t, sale.ShopID)
	assert.Equal(t, 240.0, sale.TotalPrice)

	updated, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.StockQuantity)
}

func TestAddSaleFailsAtomically(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	item := createTestItem(t, store, "1234567", 1)

	_, err := store.AddSale(ctx, item.ID, 2, 240)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	_, err = store.AddSale(ctx, 9999, 1, 10)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.AddSale(ctx, item.ID, 1, -10)
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, 0, countRows(t, store, "sales"))
	unchanged, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, unchanged.StockQuantity)
}

func TestSalesReport(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	item := createTestItem(t, store, "1234567", 10)
	require.NoError(t, store.MoveItemToShop(ctx, DefaultShopName, "1234567", 5))

	_, err := store.AddSale(ctx, item.ID, 1, 120)
	require.NoError(t, err)
	old, err := store.SellFromShop(ctx, DefaultShopName, "1234567", 2, 200)
	require.NoError(t, err)
	_, err = store.DB().Exec("UPDATE sales SET sale_date = '2020-05-01 12:00:00' WHERE id = ?", old.ID)
	require.NoError(t, err)

	all, err := store.SalesReport(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "", all[0].ShopName)
	assert.Equal(t, DefaultShopName, all[1].ShopName)
	assert.Equal(t, 80.0, all[1].UnitCost)
	assert.Equal(t, "1234567", all[1].Barcode)

	recent, err := store.SalesReport(ctx, time.Date(2021, 1, 1, 0, 0, 0, 0, time.Local), time.Time{})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 1, recent[0].Quantity)

	early, err := store.SalesReport(ctx, time.Time{}, time.Date(2020, 12, 31, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	require.Len(t, early, 1)
	assert.Equal(t, old.ID, early[0].ID)
}
