package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceHistory is an append-only log of price changes for one SupplierItem.
// A row is written only when an incoming price differs from the stored
// current price; rows are never mutated or deleted.
type PriceHistory struct {
	ID             int             `gorm:"primary_key" json:"id"`
	SupplierItemId int             `gorm:"index;not null" json:"supplier_item_id"`
	Price          decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"price"`
	RecordedAt     time.Time       `gorm:"autoCreateTime" json:"recorded_at"`
}
