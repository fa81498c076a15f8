package catalogsync

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/pricelists_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newCatalogTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&models.Product{},
		&models.SupplierItem{},
		&models.PriceHistory{},
		&models.MatchReviewEntry{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return d
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestApplyIngest_FirstInsertWritesNoPriceHistory(t *testing.T) {
	db := newCatalogTestDB(t)
	rec := IngestRecord{
		Sku:             "A-1",
		Name:            "Widget",
		Price:           mustDecimal(t, "12.50"),
		Characteristics: map[string]string{"category": "tools"},
		RowNumber:       2,
	}

	outcome, err := ApplyIngest(context.Background(), db, 1, rec, Decision{Kind: DecisionCreateNew})
	if err != nil {
		t.Fatalf("ApplyIngest error: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Fatalf("expected created, got %s", outcome)
	}

	var item models.SupplierItem
	if err := db.Where("supplier_id = ? AND supplier_sku = ?", 1, "A-1").First(&item).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if !item.CurrentPrice.Equal(mustDecimal(t, "12.50")) {
		t.Fatalf("expected price 12.50, got %s", item.CurrentPrice)
	}
	if item.ProductId == nil {
		t.Fatal("create_new must link the item to the new product")
	}
	if item.LastIngestedAt == nil {
		t.Fatal("expected last_ingested_at to be set")
	}
	if n := countRows(t, db, &models.PriceHistory{}); n != 0 {
		t.Fatalf("first insert must write no price history, got %d rows", n)
	}

	var product models.Product
	if err := db.First(&product, *item.ProductId).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	if product.Sku != "A-1" || product.Status != models.ProductStatusDraft || product.Category != "tools" {
		t.Fatalf("unexpected product: %+v", product)
	}
}

func TestApplyIngest_PriceChangeAppendsExactlyOneHistoryRow(t *testing.T) {
	db := newCatalogTestDB(t)
	rec := IngestRecord{Sku: "A-1", Name: "Widget", Price: mustDecimal(t, "12.50")}

	if _, err := ApplyIngest(context.Background(), db, 1, rec, Decision{Kind: DecisionCreateNew}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	rec.Price = mustDecimal(t, "15.00")
	outcome, err := ApplyIngest(context.Background(), db, 1, rec, Decision{Kind: DecisionCreateNew})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Fatalf("expected updated, got %s", outcome)
	}

	var history []models.PriceHistory
	if err := db.Find(&history).Error; err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly one history row, got %d", len(history))
	}
	if !history[0].Price.Equal(mustDecimal(t, "15.00")) {
		t.Fatalf("expected history price 15.00, got %s", history[0].Price)
	}

	var item models.SupplierItem
	if err := db.Where("supplier_id = ? AND supplier_sku = ?", 1, "A-1").First(&item).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if !item.CurrentPrice.Equal(mustDecimal(t, "15.00")) {
		t.Fatalf("expected current price 15.00, got %s", item.CurrentPrice)
	}
}

func TestApplyIngest_UnchangedRerunIsNoOp(t *testing.T) {
	db := newCatalogTestDB(t)
	rec := IngestRecord{Sku: "A-1", Name: "Widget", Price: mustDecimal(t, "12.50")}

	if _, err := ApplyIngest(context.Background(), db, 1, rec, Decision{Kind: DecisionCreateNew}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	// Same values again, redelivered. Equal value in a different
	// representation must not produce a phantom history row.
	rec.Price = mustDecimal(t, "12.5")
	outcome, err := ApplyIngest(context.Background(), db, 1, rec, Decision{Kind: DecisionCreateNew})
	if err != nil {
		t.Fatalf("rerun ingest: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Fatalf("expected updated, got %s", outcome)
	}
	if n := countRows(t, db, &models.PriceHistory{}); n != 0 {
		t.Fatalf("unchanged rerun must write no history, got %d rows", n)
	}
	if n := countRows(t, db, &models.SupplierItem{}); n != 1 {
		t.Fatalf("expected one item, got %d", n)
	}
	if n := countRows(t, db, &models.Product{}); n != 1 {
		t.Fatalf("rerun must not create another product, got %d", n)
	}
}

func TestApplyIngest_AutoLinkOnlyWhenUnlinked(t *testing.T) {
	db := newCatalogTestDB(t)
	if err := db.Create(&models.Product{Sku: "P-1", Name: "Widget", Status: models.ProductStatusActive}).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if err := db.Create(&models.Product{Sku: "P-2", Name: "Widget v2", Status: models.ProductStatusActive}).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	rec := IngestRecord{Sku: "A-1", Name: "Widget", Price: mustDecimal(t, "10.00")}
	if _, err := ApplyIngest(context.Background(), db, 1, rec, Decision{Kind: DecisionAutoLink, ProductId: 1}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	// A later run matching a different product must not relink.
	if _, err := ApplyIngest(context.Background(), db, 1, rec, Decision{Kind: DecisionAutoLink, ProductId: 2}); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	var item models.SupplierItem
	if err := db.Where("supplier_id = ? AND supplier_sku = ?", 1, "A-1").First(&item).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if item.ProductId == nil || *item.ProductId != 1 {
		t.Fatalf("expected item to stay linked to product 1, got %v", item.ProductId)
	}
}

func TestApplyIngest_ReviewQueueUpsertIsIdempotent(t *testing.T) {
	db := newCatalogTestDB(t)
	rec := IngestRecord{Sku: "A-1", Name: "Widget", Price: mustDecimal(t, "10.00")}
	decision := Decision{
		Kind: DecisionReviewQueue,
		Candidates: []models.ReviewCandidate{
			{ProductId: 1, Name: "Widget v1", Score: 0.7},
		},
	}

	outcome, err := ApplyIngest(context.Background(), db, 1, rec, decision)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if outcome != OutcomeReviewed {
		t.Fatalf("expected reviewed, got %s", outcome)
	}

	decision.Candidates = append(decision.Candidates, models.ReviewCandidate{ProductId: 2, Name: "Widget v2", Score: 0.6})
	if _, err := ApplyIngest(context.Background(), db, 1, rec, decision); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	var entries []models.MatchReviewEntry
	if err := db.Find(&entries).Error; err != nil {
		t.Fatalf("load entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one review entry per item, got %d", len(entries))
	}
	resp := toReviewResponse(entries[0])
	if len(resp.Candidates) != 2 {
		t.Fatalf("expected refreshed candidates, got %+v", resp.Candidates)
	}
}

func TestApplyIngest_LinkedItemSkipsReviewQueue(t *testing.T) {
	db := newCatalogTestDB(t)
	rec := IngestRecord{Sku: "A-1", Name: "Widget", Price: mustDecimal(t, "10.00")}

	if _, err := ApplyIngest(context.Background(), db, 1, rec, Decision{Kind: DecisionCreateNew}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	// Already linked: an ambiguous later match must not queue a review.
	outcome, err := ApplyIngest(context.Background(), db, 1, rec, Decision{
		Kind:       DecisionReviewQueue,
		Candidates: []models.ReviewCandidate{{ProductId: 9, Name: "Other", Score: 0.7}},
	})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Fatalf("expected updated, got %s", outcome)
	}
	if n := countRows(t, db, &models.MatchReviewEntry{}); n != 0 {
		t.Fatalf("linked item must not be queued for review, got %d entries", n)
	}
}

func TestApplyIngest_ProductSkuCollisionFallsBackToGenerated(t *testing.T) {
	db := newCatalogTestDB(t)
	if err := db.Create(&models.Product{Sku: "A-1", Name: "Existing", Status: models.ProductStatusActive}).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	rec := IngestRecord{Sku: "A-1", Name: "Different Widget", Price: mustDecimal(t, "10.00")}
	if _, err := ApplyIngest(context.Background(), db, 1, rec, Decision{Kind: DecisionCreateNew}); err != nil {
		t.Fatalf("ApplyIngest error: %v", err)
	}

	var products []models.Product
	if err := db.Order("id ASC").Find(&products).Error; err != nil {
		t.Fatalf("load products: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	if products[1].Sku == "A-1" {
		t.Fatal("second product must carry a generated sku")
	}
}

func TestApplyIngest_DuplicateKeyMapsToStorageConflictAndRetrySucceeds(t *testing.T) {
	db := newCatalogTestDB(t)
	rec := IngestRecord{Sku: "A-1", Name: "Widget", Price: mustDecimal(t, "10.00")}

	// A concurrent writer already landed the same (supplier, sku) key.
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := createItem(tx, 1, rec, Decision{Kind: DecisionAutoLink, ProductId: 1})
		return err
	})
	if err != nil {
		t.Fatalf("seed item: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := createItem(tx, 1, rec, Decision{Kind: DecisionAutoLink, ProductId: 1})
		return err
	})
	if !isDuplicateErr(err) {
		t.Fatalf("expected duplicate-key error, got %v", err)
	}

	// The retry goes through ApplyIngest again and now takes the update
	// path, which is the one-shot conflict-retry contract.
	outcome, err := ApplyIngest(context.Background(), db, 1, rec, Decision{Kind: DecisionAutoLink, ProductId: 1})
	if err != nil {
		t.Fatalf("retry ApplyIngest error: %v", err)
	}
	if outcome != OutcomeUpdated {
		t.Fatalf("expected updated on retry, got %s", outcome)
	}
}
