// Package products manages the product catalogue: SKUs, barcodes, pricing
// and stock thresholds. Deletion is soft by default so historical sales keep
// their product references; a soft-deleted product with no stock left can be
// purged for good.
package products

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable catalogue item.
type Product struct {
	ID           int64           `json:"id"`
	SKU          string          `json:"sku"`
	Barcode      string          `json:"barcode,omitempty"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	CategoryID   *int64          `json:"category_id,omitempty"`
	UnitID       *int64          `json:"unit_id,omitempty"`
	CostPrice    decimal.Decimal `json:"cost_price"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	ReorderLevel int64           `json:"reorder_level"`
	MinStock     int64           `json:"min_stock"`
	MaxStock     int64           `json:"max_stock"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    *time.Time      `json:"deleted_at,omitempty"`
}

// CreateInput carries the fields for a new product.
type CreateInput struct {
	SKU          string
	Barcode      string
	Name         string
	Description  string
	CategoryID   *int64
	UnitID       *int64
	CostPrice    decimal.Decimal
	SellingPrice decimal.Decimal
	TaxRate      decimal.Decimal
	ReorderLevel int64
	MinStock     int64
	MaxStock     int64
}

// UpdateInput carries the mutable fields of an existing product.
type UpdateInput struct {
	Barcode      string
	Name         string
	Description  string
	CategoryID   *int64
	UnitID       *int64
	CostPrice    decimal.Decimal
	SellingPrice decimal.Decimal
	TaxRate      decimal.Decimal
	ReorderLevel int64
	MinStock     int64
	MaxStock     int64
	IsActive     bool
}

// ListFilter narrows product listings.
type ListFilter struct {
	Search     string
	CategoryID int64
	ActiveOnly bool
	Page       int
	PerPage    int
}
