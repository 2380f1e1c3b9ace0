// Package reports builds read-only views over the inventory for the API,
// the CLI and spreadsheet exports.
package reports

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"jms/internal/database"
	"jms/internal/models"
)

type Service struct {
	store *database.Store
}

func NewService(store *database.Store) *Service {
	return &Service{store: store}
}

// Inventory is a positional table: every row follows Columns.
type Inventory struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// InventoryReport returns every item in models.ItemColumns order.
func (s *Service) InventoryReport(ctx context.Context) (*Inventory, error) {
	items, err := s.store.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	report := &Inventory{Columns: models.ItemColumns, Rows: make([][]interface{}, 0, len(items))}
	for _, item := range items {
		report.Rows = append(report.Rows, item.Values())
	}
	return report, nil
}

type StockLevel struct {
	ItemID         int64  `json:"item_id" db:"item_id"`
	Barcode        string `json:"barcode" db:"barcode"`
	Name           string `json:"name" db:"name"`
	Category       string `json:"category" db:"category"`
	WarehouseUnits int    `json:"warehouse_units" db:"warehouse_units"`
	ShopUnits      int    `json:"shop_units" db:"shop_units"`
}

func (l StockLevel) Total() int {
	return l.WarehouseUnits + l.ShopUnits
}

const stockLevelQuery = `
	SELECT i.id AS item_id, i.barcode, i.name, i.category,
	       i.stock_quantity AS warehouse_units,
	       COALESCE((SELECT SUM(si.quantity) FROM shop_items si WHERE si.item_id = i.id), 0) AS shop_units
	FROM items i`

// LowStock lists items whose total owned units are at or below threshold,
// lowest first.
func (s *Service) LowStock(ctx context.Context, threshold int) ([]StockLevel, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("%w: threshold must not be negative", database.ErrValidation)
	}

	levels := []StockLevel{}
	query := `SELECT * FROM (` + stockLevelQuery + `) WHERE warehouse_units + shop_units <= ?
		ORDER BY warehouse_units + shop_units, name`
	if err := s.store.DB().SelectContext(ctx, &levels, query, threshold); err != nil {
		return nil, fmt.Errorf("failed to query stock levels: %w", err)
	}
	return levels, nil
}

type CategoryValue struct {
	Category string          `json:"category"`
	Units    int             `json:"units"`
	Value    decimal.Decimal `json:"value"`
	Cost     decimal.Decimal `json:"cost"`
}

type ValueReport struct {
	Items        int             `json:"items"`
	Units        int             `json:"units"`
	TotalValue   decimal.Decimal `json:"total_value"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Profit       decimal.Decimal `json:"profit"`
	ProfitMargin decimal.Decimal `json:"profit_margin"`
	Categories   []CategoryValue `json:"categories"`
}

type valuedLevel struct {
	StockLevel
	Price float64 `db:"price"`
	Cost  float64 `db:"cost"`
}

// Value prices every owned unit, warehouse and shops alike, at the item's
// sale price and cost. ProfitMargin is a percentage of TotalValue rounded to
// two places.
func (s *Service) Value(ctx context.Context) (*ValueReport, error) {
	var levels []valuedLevel
	query := `
		SELECT i.id AS item_id, i.barcode, i.name, i.category, i.price, i.cost,
		       i.stock_quantity AS warehouse_units,
		       COALESCE((SELECT SUM(si.quantity) FROM shop_items si WHERE si.item_id = i.id), 0) AS shop_units
		FROM items i
		ORDER BY i.category, i.name`
	if err := s.store.DB().SelectContext(ctx, &levels, query); err != nil {
		return nil, fmt.Errorf("failed to query item values: %w", err)
	}

	report := &ValueReport{
		Items:      len(levels),
		TotalValue: decimal.Zero,
		TotalCost:  decimal.Zero,
		Categories: []CategoryValue{},
	}
	byCategory := map[string]int{}
	for _, l := range levels {
		units := decimal.NewFromInt(int64(l.Total()))
		value := decimal.NewFromFloat(l.Price).Mul(units)
		cost := decimal.NewFromFloat(l.Cost).Mul(units)

		report.Units += l.Total()
		report.TotalValue = report.TotalValue.Add(value)
		report.TotalCost = report.TotalCost.Add(cost)

		i, ok := byCategory[l.Category]
		if !ok {
			i = len(report.Categories)
			byCategory[l.Category] = i
			report.Categories = append(report.Categories, CategoryValue{Category: l.Category, Value: decimal.Zero, Cost: decimal.Zero})
		}
		c := &report.Categories[i]
		c.Units += l.Total()
		c.Value = c.Value.Add(value)
		c.Cost = c.Cost.Add(cost)
	}

	report.Profit = report.TotalValue.Sub(report.TotalCost)
	report.ProfitMargin = margin(report.TotalValue, report.Profit)
	return report, nil
}

func margin(revenue, profit decimal.Decimal) decimal.Decimal {
	if revenue.IsZero() {
		return decimal.Zero
	}
	return profit.Div(revenue).Mul(decimal.NewFromInt(100)).Round(2)
}

type SaleProfit struct {
	models.SaleRecord
	Revenue decimal.Decimal `json:"revenue"`
	Cost    decimal.Decimal `json:"cost"`
	Profit  decimal.Decimal `json:"profit"`
}

type ProfitReport struct {
	From         *time.Time      `json:"from,omitempty"`
	To           *time.Time      `json:"to,omitempty"`
	Sales        []SaleProfit    `json:"sales"`
	UnitsSold    int             `json:"units_sold"`
	Revenue      decimal.Decimal `json:"revenue"`
	Cost         decimal.Decimal `json:"cost"`
	Profit       decimal.Decimal `json:"profit"`
	ProfitMargin decimal.Decimal `json:"profit_margin"`
}

// Profit costs each sale at the item's current unit cost. Zero bounds are
// open, as in SalesReport.
func (s *Service) Profit(ctx context.Context, from, to time.Time) (*ProfitReport, error) {
	records, err := s.store.SalesReport(ctx, from, to)
	if err != nil {
		return nil, err
	}

	report := &ProfitReport{
		Sales:   make([]SaleProfit, 0, len(records)),
		Revenue: decimal.Zero,
		Cost:    decimal.Zero,
	}
	if !from.IsZero() {
		report.From = &from
	}
	if !to.IsZero() {
		report.To = &to
	}

	for _, r := range records {
		revenue := decimal.NewFromFloat(r.TotalPrice)
		cost := decimal.NewFromFloat(r.UnitCost).Mul(decimal.NewFromInt(int64(r.Quantity)))
		report.Sales = append(report.Sales, SaleProfit{
			SaleRecord: r,
			Revenue:    revenue,
			Cost:       cost,
			Profit:     revenue.Sub(cost),
		})
		report.UnitsSold += r.Quantity
		report.Revenue = report.Revenue.Add(revenue)
		report.Cost = report.Cost.Add(cost)
	}

	report.Profit = report.Revenue.Sub(report.Cost)
	report.ProfitMargin = margin(report.Revenue, report.Profit)
	return report, nil
}

// WriteCSV renders a positional report.
func WriteCSV(w io.Writer, columns []string, rows [][]interface{}) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = cell(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func cell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case decimal.Decimal:
		return val.StringFixed(2)
	case time.Time:
		return val.Format(models.TimestampLayout)
	default:
		return fmt.Sprintf("%v", val)
	}
}

var lowStockColumns = []string{"barcode", "name", "category", "warehouse_units", "shop_units", "total"}

func LowStockRows(levels []StockLevel) ([]string, [][]interface{}) {
	rows := make([][]interface{}, 0, len(levels))
	for _, l := range levels {
		rows = append(rows, []interface{}{l.Barcode, l.Name, l.Category, l.WarehouseUnits, l.ShopUnits, l.Total()})
	}
	return lowStockColumns, rows
}

var salesColumns = []string{"sale_date", "barcode", "item_name", "shop_name", "quantity", "revenue", "cost", "profit"}

func (r *ProfitReport) Rows() ([]string, [][]interface{}) {
	rows := make([][]interface{}, 0, len(r.Sales))
	for _, s := range r.Sales {
		rows = append(rows, []interface{}{s.SaleDate, s.Barcode, s.ItemName, s.ShopName, s.Quantity, s.Revenue, s.Cost, s.Profit})
	}
	return salesColumns, rows
}
