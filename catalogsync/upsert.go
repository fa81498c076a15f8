package catalogsync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pricelists_backend/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStorageConflict marks a unique-key collision caused by a concurrent
// writer. The caller retries the row once; a second conflict escalates to
// a task-level failure.
var ErrStorageConflict = errors.New("storage conflict")

type UpsertOutcome string

const (
	OutcomeCreated  UpsertOutcome = "created"
	OutcomeUpdated  UpsertOutcome = "updated"
	OutcomeReviewed UpsertOutcome = "reviewed"
)

// ApplyIngest persists one matched record inside a transaction keyed on
// (supplier_id, supplier_sku). Absent items are created; present items are
// refreshed, with a PriceHistory row appended only when the price actually
// changed. Redelivered rows with unchanged values are no-ops.
func ApplyIngest(ctx context.Context, db *gorm.DB, supplierId int, rec IngestRecord, decision Decision) (UpsertOutcome, error) {
	var outcome UpsertOutcome

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item models.SupplierItem
		err := tx.Where("supplier_id = ? AND supplier_sku = ?", supplierId, rec.Sku).
			First(&item).Error

		switch {
		case err == nil:
			outcome, err = updateItem(tx, &item, rec, decision)
			return err
		case errors.Is(err, gorm.ErrRecordNotFound):
			outcome, err = createItem(tx, supplierId, rec, decision)
			return err
		default:
			return err
		}
	})
	if err != nil {
		if isDuplicateErr(err) {
			return "", ErrStorageConflict
		}
		return "", err
	}
	return outcome, nil
}

func createItem(tx *gorm.DB, supplierId int, rec IngestRecord, decision Decision) (UpsertOutcome, error) {
	charsJSON, _ := json.Marshal(rec.Characteristics)
	now := time.Now()
	item := models.SupplierItem{
		SupplierId:          supplierId,
		SupplierSku:         rec.Sku,
		Name:                rec.Name,
		CurrentPrice:        rec.Price,
		CharacteristicsJSON: charsJSON,
		LastIngestedAt:      &now,
	}

	switch decision.Kind {
	case DecisionAutoLink:
		id := decision.ProductId
		item.ProductId = &id
	case DecisionCreateNew:
		product, err := createProduct(tx, rec)
		if err != nil {
			return "", err
		}
		item.ProductId = &product.ID
	}

	if err := tx.Create(&item).Error; err != nil {
		return "", err
	}

	if decision.Kind == DecisionReviewQueue {
		if err := queueReview(tx, item.ID, decision.Candidates); err != nil {
			return "", err
		}
		return OutcomeReviewed, nil
	}
	return OutcomeCreated, nil
}

func updateItem(tx *gorm.DB, item *models.SupplierItem, rec IngestRecord, decision Decision) (UpsertOutcome, error) {
	charsJSON, _ := json.Marshal(rec.Characteristics)
	now := time.Now()
	updates := map[string]interface{}{
		"name":                 rec.Name,
		"characteristics_json": charsJSON,
		"last_ingested_at":     &now,
	}

	changed := priceChanged(item.CurrentPrice, rec.Price)
	if changed {
		updates["current_price"] = rec.Price
	}
	if decision.Kind == DecisionAutoLink && item.ProductId == nil {
		id := decision.ProductId
		updates["product_id"] = &id
	}

	if err := tx.Model(item).Updates(updates).Error; err != nil {
		return "", err
	}
	if changed {
		history := models.PriceHistory{
			SupplierItemId: item.ID,
			Price:          rec.Price,
		}
		if err := tx.Create(&history).Error; err != nil {
			return "", err
		}
	}

	if decision.Kind == DecisionReviewQueue && item.ProductId == nil {
		if err := queueReview(tx, item.ID, decision.Candidates); err != nil {
			return "", err
		}
		return OutcomeReviewed, nil
	}
	return OutcomeUpdated, nil
}

// createProduct materializes a new catalog entry for an unmatched record.
// The supplier sku seeds the canonical sku; on collision with an existing
// product a generated sku keeps the two distinct.
func createProduct(tx *gorm.DB, rec IngestRecord) (*models.Product, error) {
	product := models.Product{
		Sku:      rec.Sku,
		Name:     rec.Name,
		Category: rec.Characteristics["category"],
		Status:   models.ProductStatusDraft,
	}
	err := tx.Create(&product).Error
	if err != nil && isDuplicateErr(err) {
		product.ID = 0
		product.Sku = generatedSku()
		err = tx.Create(&product).Error
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func generatedSku() string {
	return "PRD-" + strings.ToUpper(uuid.NewString()[:8])
}

func queueReview(tx *gorm.DB, supplierItemId int, candidates []models.ReviewCandidate) error {
	candidatesJSON, _ := json.Marshal(candidates)
	entry := models.MatchReviewEntry{
		SupplierItemId: supplierItemId,
		CandidatesJSON: candidatesJSON,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "supplier_item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"candidates_json", "updated_at"}),
	}).Create(&entry).Error
}

// priceChanged compares on value, not representation, so "12.50" and
// "12.5" do not produce a phantom history row.
func priceChanged(current, incoming decimal.Decimal) bool {
	return !current.Equal(incoming)
}

func isDuplicateErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "1062")
}
