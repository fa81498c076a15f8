package catalogsync

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pricelists_backend/models"
	"bitbucket.org/mmdatafocus/pricelists_backend/utils"
)

func TestKeepaliveInterval_FlooredAtOneSecond(t *testing.T) {
	cases := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{120 * time.Second, 40 * time.Second},
		{30 * time.Second, 10 * time.Second},
		{3 * time.Second, time.Second},
		{2 * time.Second, time.Second},
		{time.Second, time.Second},
		{0, time.Second},
	}
	for _, tc := range cases {
		if got := keepaliveInterval(tc.ttl); got != tc.want {
			t.Fatalf("keepaliveInterval(%v) expected %v, got %v", tc.ttl, tc.want, got)
		}
	}
}

func masterRow(name, kind, location string) MasterSupplierRow {
	return MasterSupplierRow{
		Name:           name,
		SourceKind:     models.SourceKind(kind),
		SourceLocation: location,
		Metadata:       map[string]string{},
	}
}

func TestBuildReconcilePlan_CreateUpdateDeactivate(t *testing.T) {
	existing := []models.Supplier{
		{ID: 1, Name: "Acme", IsActive: utils.NewTrue()},
		{ID: 2, Name: "Globex", IsActive: utils.NewTrue()},
		{ID: 3, Name: "Initech", IsActive: utils.NewTrue()},
	}
	rows := []MasterSupplierRow{
		masterRow("Acme", "csv", "https://acme.example/prices.csv"),
		masterRow("Hooli", "sheet", "sheet-id-1"),
	}

	plan := BuildReconcilePlan(existing, rows)

	if len(plan.Create) != 1 || plan.Create[0].Name != "Hooli" {
		t.Fatalf("expected to create Hooli, got %+v", plan.Create)
	}
	if len(plan.Update) != 1 {
		t.Fatalf("expected one update, got %+v", plan.Update)
	}
	if _, ok := plan.Update[1]; !ok {
		t.Fatalf("expected update for supplier 1, got %+v", plan.Update)
	}
	if len(plan.Deactivate) != 2 {
		t.Fatalf("expected to deactivate Globex and Initech, got %v", plan.Deactivate)
	}
}

func TestBuildReconcilePlan_NameMatchIgnoresCaseAndSpacing(t *testing.T) {
	existing := []models.Supplier{
		{ID: 1, Name: "Acme Supplies", IsActive: utils.NewTrue()},
	}
	rows := []MasterSupplierRow{
		masterRow("acme   supplies", "csv", "loc"),
	}

	plan := BuildReconcilePlan(existing, rows)
	if len(plan.Create) != 0 {
		t.Fatalf("expected no creates, got %+v", plan.Create)
	}
	if _, ok := plan.Update[1]; !ok {
		t.Fatalf("expected update for supplier 1, got %+v", plan.Update)
	}
	if len(plan.Deactivate) != 0 {
		t.Fatalf("expected no deactivations, got %v", plan.Deactivate)
	}
}

func TestBuildReconcilePlan_AlreadyInactiveNotDeactivatedAgain(t *testing.T) {
	existing := []models.Supplier{
		{ID: 1, Name: "Gone", IsActive: utils.NewFalse()},
	}
	plan := BuildReconcilePlan(existing, []MasterSupplierRow{
		masterRow("Other", "csv", "loc"),
	})
	if len(plan.Deactivate) != 0 {
		t.Fatalf("inactive supplier must not be re-deactivated, got %v", plan.Deactivate)
	}
}

func TestBuildReconcilePlan_ReactivatesReturnedSupplier(t *testing.T) {
	existing := []models.Supplier{
		{ID: 4, Name: "Returned", IsActive: utils.NewFalse()},
	}
	plan := BuildReconcilePlan(existing, []MasterSupplierRow{
		masterRow("Returned", "csv", "loc"),
	})
	// Updates set is_active, which covers reactivation.
	if _, ok := plan.Update[4]; !ok {
		t.Fatalf("expected returned supplier to be updated, got %+v", plan.Update)
	}
	if len(plan.Deactivate) != 0 {
		t.Fatalf("expected no deactivations, got %v", plan.Deactivate)
	}
}

func TestBuildReconcilePlan_DuplicateSourceNamesCollapse(t *testing.T) {
	plan := BuildReconcilePlan(nil, []MasterSupplierRow{
		masterRow("Acme", "csv", "first"),
		masterRow("ACME", "csv", "second"),
	})
	if len(plan.Create) != 1 {
		t.Fatalf("expected one create for duplicate names, got %+v", plan.Create)
	}
	if plan.Create[0].SourceLocation != "first" {
		t.Fatalf("expected first occurrence to win, got %q", plan.Create[0].SourceLocation)
	}
}

func TestBuildReconcilePlan_Idempotent(t *testing.T) {
	rows := []MasterSupplierRow{
		masterRow("Acme", "csv", "loc-a"),
		masterRow("Hooli", "sheet", "loc-b"),
	}
	// State after applying the plan once.
	applied := []models.Supplier{
		{ID: 1, Name: "Acme", SourceKind: models.SourceKindCSV, SourceLocation: "loc-a", IsActive: utils.NewTrue()},
		{ID: 2, Name: "Hooli", SourceKind: models.SourceKindSheet, SourceLocation: "loc-b", IsActive: utils.NewTrue()},
	}

	plan := BuildReconcilePlan(applied, rows)
	if len(plan.Create) != 0 || len(plan.Deactivate) != 0 {
		t.Fatalf("second reconcile must only re-assert updates, got %+v", plan)
	}
	if len(plan.Update) != 2 {
		t.Fatalf("expected updates for both suppliers, got %+v", plan.Update)
	}
}

func TestParseMasterRow_Valid(t *testing.T) {
	row, err := parseMasterRow(RawRow{
		"name":            "Acme  Supplies",
		"source_kind":     "CSV",
		"source_location": " https://acme.example/prices.csv ",
		"contact":         "ops@acme.example",
	})
	if err != nil {
		t.Fatalf("parseMasterRow error: %v", err)
	}
	if row.Name != "Acme Supplies" {
		t.Fatalf("expected collapsed name, got %q", row.Name)
	}
	if row.SourceKind != models.SourceKindCSV {
		t.Fatalf("expected csv kind, got %q", row.SourceKind)
	}
	if row.SourceLocation != "https://acme.example/prices.csv" {
		t.Fatalf("expected trimmed location, got %q", row.SourceLocation)
	}
	if row.Metadata["contact"] != "ops@acme.example" {
		t.Fatalf("expected extra column in metadata, got %v", row.Metadata)
	}
}

func TestParseMasterRow_AliasedColumns(t *testing.T) {
	row, err := parseMasterRow(RawRow{
		"name": "Acme",
		"type": "excel_file",
		"url":  "gs://bucket/prices.xlsx",
	})
	if err != nil {
		t.Fatalf("parseMasterRow error: %v", err)
	}
	if row.SourceKind != models.SourceKindExcelFile {
		t.Fatalf("expected excel_file, got %q", row.SourceKind)
	}
	if row.SourceLocation != "gs://bucket/prices.xlsx" {
		t.Fatalf("unexpected location %q", row.SourceLocation)
	}
}

func TestParseMasterRow_Invalid(t *testing.T) {
	cases := []struct {
		name string
		row  RawRow
	}{
		{"missing name", RawRow{"source_kind": "csv", "source_location": "loc"}},
		{"unknown kind", RawRow{"name": "Acme", "source_kind": "ftp", "source_location": "loc"}},
		{"missing location", RawRow{"name": "Acme", "source_kind": "csv"}},
	}
	for _, tc := range cases {
		if _, err := parseMasterRow(tc.row); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
