package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jms/internal/models"
)

func TestCreateItemValidation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	valid := models.Item{Barcode: "100", Name: "Обеци", Category: "Обеци", Price: 10, Cost: 5, Weight: 1, StockQuantity: 1}

	cases := map[string]func(i *models.Item){
		"empty barcode":   func(i *models.Item) { i.Barcode = "   " },
		"empty name":      func(i *models.Item) { i.Name = "" },
		"negative price":  func(i *models.Item) { i.Price = -1 },
		"negative cost":   func(i *models.Item) { i.Cost = -0.01 },
		"negative weight": func(i *models.Item) { i.Weight = -2 },
		"negative stock":  func(i *models.Item) { i.StockQuantity = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			item := valid
			mutate(&item)
			_, err := store.CreateItem(ctx, item)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	assert.Equal(t, 0, countRows(t, store, "items"))
}

func TestCreateItemDuplicateBarcode(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	createTestItem(t, store, "1234567", 1)

	_, err := store.CreateItem(ctx, models.Item{Barcode: " 1234567 ", Name: "Друг", Category: "Пръстени"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Equal(t, 1, countRows(t, store, "items"))
}

func TestCreateAndGetItem(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	created := createTestItem(t, store, "1234567", 10)
	assert.NotZero(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	byBarcode, err := store.GetItemByBarcode(ctx, "1234567")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byBarcode.ID)
	assert.Equal(t, 3.5, byBarcode.Weight)
	assert.Equal(t, "Злато", byBarcode.MetalType)

	_, err = store.GetItemByBarcode(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetItem(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestItemValuesFollowColumnOrder(t *testing.T) {
	store := setupTestStore(t)
	item := createTestItem(t, store, "1234567", 10)

	row := item.Values()
	require.Len(t, row, len(models.ItemColumns))
	assert.Equal(t, item.Barcode, row[1])
	assert.Equal(t, item.StockQuantity, row[10])
}

func TestUpdateItemPartial(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	item := createTestItem(t, store, "1234567", 10)

	price := 250.0
	name := "Нов пръстен"
	updated, err := store.UpdateItem(ctx, item.ID, models.ItemUpdate{Price: &price, Name: &name})
	require.NoError(t, err)

	assert.Equal(t, 250.0, updated.Price)
	assert.Equal(t, "Нов пръстен", updated.Name)
	assert.Equal(t, item.Cost, updated.Cost)
	assert.Equal(t, item.StockQuantity, updated.StockQuantity)
	assert.False(t, updated.UpdatedAt.Before(item.UpdatedAt))
}

func TestUpdateItemRejectsBadInput(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	item := createTestItem(t, store, "1234567", 10)
	createTestItem(t, store, "7654321", 1)

	_, err := store.UpdateItem(ctx, item.ID, models.ItemUpdate{})
	assert.ErrorIs(t, err, ErrValidation)

	negative := -5.0
	_, err = store.UpdateItem(ctx, item.ID, models.ItemUpdate{Weight: &negative})
	assert.ErrorIs(t, err, ErrValidation)

	empty := ""
	_, err = store.UpdateItem(ctx, item.ID, models.ItemUpdate{Barcode: &empty})
	assert.ErrorIs(t, err, ErrValidation)

	taken := "7654321"
	_, err = store.UpdateItem(ctx, item.ID, models.ItemUpdate{Barcode: &taken})
	assert.ErrorIs(t, err, ErrConflict)

	price := 1.0
	_, err = store.UpdateItem(ctx, 9999, models.ItemUpdate{Price: &price})
	assert.ErrorIs(t, err, ErrNotFound)

	unchanged, err := store.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "1234567", unchanged.Barcode)
	assert.Equal(t, 3.5, unchanged.Weight)
}

func TestDeleteItem(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	item := createTestItem(t, store, "1234567", 10)
	require.NoError(t, store.MoveItemToShop(ctx, DefaultShopName, "1234567", 2))

	require.NoError(t, store.DeleteItem(ctx, item.ID))
	assert.Equal(t, 0, countRows(t, store, "shop_items"))
	assert.ErrorIs(t, store.DeleteItem(ctx, item.ID), ErrNotFound)

	sold := createTestItem(t, store, "7654321", 5)
	_, err := store.AddSale(ctx, sold.ID, 1, 120)
	require.NoError(t, err)
	assert.ErrorIs(t, store.DeleteItem(ctx, sold.ID), ErrConflict)
}

func TestSearchItemsRanking(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, item := range []models.Item{
		{Barcode: "900001", Name: "Верижка", Category: "Колиета", Description: "златна", MetalType: "Злато"},
		{Barcode: "900002", Name: "Златен пръстен", Category: "Пръстени"},
		{Barcode: "злато-1", Name: "Брошка", Category: "Брошки"},
		{Barcode: "900003", Name: "Гривна", Category: "Злато"},
		{Barcode: "900004", Name: "Аква", Category: "Сребро"},
	} {
		item.Price, item.Cost = 1, 1
		_, err := store.CreateItem(ctx, item)
		require.NoError(t, err)
	}

	results, err := store.SearchItems(ctx, "Злат")
	require.NoError(t, err)

	var names []string
	for _, r := range results {
		names = append(names, r.Name)
	}
	// name match, then category match, then metal type match
	assert.Equal(t, []string{"Златен пръстен", "Гривна", "Верижка"}, names)

	results, err = store.SearchItems(ctx, "злато-")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Брошка", results[0].Name)

	results, err = store.SearchItems(ctx, "  ")
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = store.SearchItems(ctx, "%")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestListItemsOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	first := createTestItem(t, store, "1", 1)
	createTestItem(t, store, "2", 1)

	_, err := store.DB().Exec("UPDATE items SET updated_at = '2000-01-01 00:00:00' WHERE id != ?", first.ID)
	require.NoError(t, err)

	items, err := store.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)
}
