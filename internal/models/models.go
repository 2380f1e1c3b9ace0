package models

import (
	"time"
)

// TimestampLayout is how the database stores local timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

const (
	AuditMissing = "missing"
	AuditFound   = "found"
	AuditExtra   = "extra"
)

// Custom value kinds offered by the item form.
const (
	CustomCategory  = "category"
	CustomMetalType = "metal_type"
	CustomStoneType = "stone_type"
)

type Item struct {
	ID            int64     `json:"id" db:"id"`
	Barcode       string    `json:"barcode" db:"barcode"`
	Name          string    `json:"name" db:"name"`
	Description   string    `json:"description" db:"description"`
	Category      string    `json:"category" db:"category"`
	Price         float64   `json:"price" db:"price"`
	Cost          float64   `json:"cost" db:"cost"`
	Weight        float64   `json:"weight" db:"weight"`
	MetalType     string    `json:"metal_type" db:"metal_type"`
	StoneType     string    `json:"stone_type" db:"stone_type"`
	StockQuantity int       `json:"stock_quantity" db:"stock_quantity"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// ItemColumns is the positional column order of Item.Values. Tabular
// consumers index into rows by these positions, so the order is fixed.
var ItemColumns = []string{
	"id", "barcode", "name", "description", "category", "price", "cost",
	"weight", "metal_type", "stone_type", "stock_quantity", "created_at", "updated_at",
}

// Values returns the item as a row in ItemColumns order.
func (i Item) Values() []interface{} {
	return []interface{}{
		i.ID, i.Barcode, i.Name, i.Description, i.Category, i.Price, i.Cost,
		i.Weight, i.MetalType, i.StoneType, i.StockQuantity,
		i.CreatedAt.Format(TimestampLayout), i.UpdatedAt.Format(TimestampLayout),
	}
}

// ItemUpdate lists the mutable item fields. Nil fields are left untouched.
type ItemUpdate struct {
	Barcode       *string  `json:"barcode,omitempty"`
	Name          *string  `json:"name,omitempty"`
	Description   *string  `json:"description,omitempty"`
	Category      *string  `json:"category,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	Cost          *float64 `json:"cost,omitempty"`
	Weight        *float64 `json:"weight,omitempty"`
	MetalType     *string  `json:"metal_type,omitempty"`
	StoneType     *string  `json:"stone_type,omitempty"`
	StockQuantity *int     `json:"stock_quantity,omitempty"`
}

func (u ItemUpdate) IsEmpty() bool {
	return u.Barcode == nil && u.Name == nil && u.Description == nil && u.Category == nil &&
		u.Price == nil && u.Cost == nil && u.Weight == nil && u.MetalType == nil &&
		u.StoneType == nil && u.StockQuantity == nil
}

type Shop struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ShopItem is an item as stocked by one shop.
type ShopItem struct {
	ShopID    int64     `json:"shop_id" db:"shop_id"`
	ItemID    int64     `json:"item_id" db:"item_id"`
	Barcode   string    `json:"barcode" db:"barcode"`
	Name      string    `json:"name" db:"name"`
	Category  string    `json:"category" db:"category"`
	Price     float64   `json:"price" db:"price"`
	Cost      float64   `json:"cost" db:"cost"`
	Weight    float64   `json:"weight" db:"weight"`
	MetalType string    `json:"metal_type" db:"metal_type"`
	StoneType string    `json:"stone_type" db:"stone_type"`
	Quantity  int       `json:"quantity" db:"quantity"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Sale struct {
	ID         int64     `json:"id" db:"id"`
	ItemID     int64     `json:"item_id" db:"item_id"`
	ShopID     *int64    `json:"shop_id,omitempty" db:"shop_id"`
	Quantity   int       `json:"quantity" db:"quantity"`
	TotalPrice float64   `json:"total_price" db:"total_price"`
	SaleDate   time.Time `json:"sale_date" db:"sale_date"`
}

// SaleRecord is a sale joined with its item and shop for reporting.
type SaleRecord struct {
	Sale
	Barcode  string  `json:"barcode" db:"barcode"`
	ItemName string  `json:"item_name" db:"item_name"`
	UnitCost float64 `json:"unit_cost" db:"unit_cost"`
	ShopName string  `json:"shop_name" db:"shop_name"`
}

type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type MasterKey struct {
	ID       int64   `json:"id" db:"id"`
	KeyCode  string  `json:"key_code" db:"key_code"`
	IsUsed   bool    `json:"is_used" db:"is_used"`
	UsedDate *string `json:"used_date,omitempty" db:"used_date"`
	UsedBy   *string `json:"used_by,omitempty" db:"used_by"`
}

type MasterKeyStats struct {
	Total     int `json:"total"`
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

type AuditSession struct {
	ID              int64  `json:"id" db:"id"`
	SessionID       string `json:"session_id" db:"session_id"`
	ShopID          int64  `json:"shop_id" db:"shop_id"`
	ShopName        string `json:"shop_name" db:"shop_name"`
	StartTime       string `json:"start_time" db:"start_time"`
	EndTime         string `json:"end_time" db:"end_time"`
	DurationMinutes int    `json:"duration_minutes" db:"duration_minutes"`
	TotalExpected   int    `json:"total_expected" db:"total_expected"`
	TotalScanned    int    `json:"total_scanned" db:"total_scanned"`
	TotalMissing    int    `json:"total_missing" db:"total_missing"`
	TotalCompleted  int    `json:"total_completed" db:"total_completed"`
	CreatedAt       string `json:"created_at" db:"created_at"`
}

type AuditResult struct {
	ID               int64  `json:"id" db:"id"`
	AuditSessionID   int64  `json:"audit_session_id" db:"audit_session_id"`
	ItemID           *int64 `json:"item_id,omitempty" db:"item_id"`
	Barcode          string `json:"barcode" db:"barcode"`
	ItemName         string `json:"item_name" db:"item_name"`
	ExpectedQuantity int    `json:"expected_quantity" db:"expected_quantity"`
	ScannedQuantity  int    `json:"scanned_quantity" db:"scanned_quantity"`
	Status           string `json:"status" db:"status"`
	CreatedAt        string `json:"created_at" db:"created_at"`
}
