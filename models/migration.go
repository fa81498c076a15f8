package models

import (
	"log"

	"bitbucket.org/mmdatafocus/pricelists_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Supplier{}, &SupplierItem{}, &Product{},
		&PriceHistory{}, &ParsingLog{}, &MatchReviewEntry{},
		&SyncRun{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
