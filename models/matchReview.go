package models

import (
	"time"
)

// MatchReviewEntry holds a SupplierItem whose match score fell between the
// decision thresholds, together with the top candidate products and their
// scores, awaiting human disambiguation. One entry per SupplierItem;
// removed when resolved.
type MatchReviewEntry struct {
	ID             int       `gorm:"primary_key" json:"id"`
	SupplierItemId int       `gorm:"uniqueIndex;not null" json:"supplier_item_id"`
	CandidatesJSON []byte    `gorm:"type:json" json:"candidates"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ReviewCandidate is one scored product inside CandidatesJSON.
type ReviewCandidate struct {
	ProductId int     `json:"product_id"`
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
}
