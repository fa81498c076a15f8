package models

import (
	"time"
)

// Product is a canonical catalog entry shared across suppliers.
type Product struct {
	ID        int           `gorm:"primary_key" json:"id"`
	Sku       string        `gorm:"size:64;uniqueIndex;not null" json:"sku"`
	Name      string        `gorm:"size:255;not null" json:"name"`
	Category  string        `gorm:"size:100;index" json:"category"`
	Status    ProductStatus `gorm:"size:20;not null;default:'draft'" json:"status"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}
