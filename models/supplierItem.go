package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SupplierItem is one supplier's line-item. (supplier_id, supplier_sku) is
// unique per supplier; ProductId is a weak reference to the canonical
// catalog entry and may be nil while the item awaits review.
// Mutated only by the upsert engine.
type SupplierItem struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	SupplierId          int             `gorm:"uniqueIndex:idx_supplier_sku,priority:1;not null" json:"supplier_id"`
	SupplierSku         string          `gorm:"uniqueIndex:idx_supplier_sku,priority:2;size:128;not null" json:"supplier_sku"`
	Name                string          `gorm:"size:255;not null" json:"name"`
	CurrentPrice        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"current_price"`
	CharacteristicsJSON []byte          `gorm:"type:json" json:"characteristics"`
	ProductId           *int            `gorm:"index" json:"product_id"`
	LastIngestedAt      *time.Time      `json:"last_ingested_at"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
