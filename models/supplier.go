package models

import (
	"time"
)

// Supplier is one external source of priced items. Suppliers are created and
// updated by the master-sync reconciliation and are never deleted, only
// deactivated when they disappear from the master configuration source.
type Supplier struct {
	ID             int        `gorm:"primary_key" json:"id"`
	Name           string     `gorm:"size:100;uniqueIndex;not null" json:"name" binding:"required"`
	SourceKind     SourceKind `gorm:"size:20;not null" json:"source_kind" binding:"required,sourcekind"`
	SourceLocation string     `gorm:"size:500;not null" json:"source_location" binding:"required"`
	MetadataJSON   []byte     `gorm:"type:json" json:"metadata"`
	IsActive       *bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
