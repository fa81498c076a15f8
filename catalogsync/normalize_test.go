package catalogsync

import "testing"

func TestNormalizeRow_AcceptsAliasedColumns(t *testing.T) {
	cases := []struct {
		name string
		row  RawRow
	}{
		{"canonical", RawRow{"sku": "A-1", "name": "Widget", "price": "12.50"}},
		{"article alias", RawRow{"article": "A-1", "title": "Widget", "unit_price": "12.50"}},
		{"code alias", RawRow{"code": "A-1", "product_name": "Widget", "cost": "12.50"}},
	}
	for _, tc := range cases {
		rec, rowErr := NormalizeRow(tc.row, 2)
		if rowErr != nil {
			t.Fatalf("%s: unexpected row error: %v", tc.name, rowErr)
		}
		if rec.Sku != "A-1" || rec.Name != "Widget" {
			t.Fatalf("%s: expected sku A-1 name Widget, got %q %q", tc.name, rec.Sku, rec.Name)
		}
		if rec.Price.String() != "12.5" {
			t.Fatalf("%s: expected price 12.5, got %s", tc.name, rec.Price.String())
		}
	}
}

func TestNormalizeRow_PriceCleanup(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"12.50", "12.5"},
		{"USD 1,299.50", "1299.5"},
		{"  1299.5  ", "1299.5"},
		{"0", "0"},
	}
	for _, tc := range cases {
		rec, rowErr := NormalizeRow(RawRow{"sku": "A-1", "name": "Widget", "price": tc.in}, 2)
		if rowErr != nil {
			t.Fatalf("price %q: unexpected row error: %v", tc.in, rowErr)
		}
		if rec.Price.String() != tc.expected {
			t.Fatalf("price %q: expected %s, got %s", tc.in, tc.expected, rec.Price.String())
		}
	}
}

func TestNormalizeRow_RejectsInvalidRows(t *testing.T) {
	cases := []struct {
		name     string
		row      RawRow
		wantCode string
	}{
		{"missing sku", RawRow{"name": "Widget", "price": "10"}, ErrCodeMissingSku},
		{"blank sku", RawRow{"sku": "   ", "name": "Widget", "price": "10"}, ErrCodeMissingSku},
		{"missing name", RawRow{"sku": "A-1", "price": "10"}, ErrCodeMissingName},
		{"unparseable price", RawRow{"sku": "A-1", "name": "Widget", "price": "n/a"}, ErrCodeInvalidPrice},
		{"missing price", RawRow{"sku": "A-1", "name": "Widget"}, ErrCodeInvalidPrice},
		{"negative price", RawRow{"sku": "A-1", "name": "Widget", "price": "-5.00"}, ErrCodeNegativePrice},
		{"bad characteristics", RawRow{"sku": "A-1", "name": "Widget", "price": "10", "characteristics": "not pairs"}, ErrCodeInvalidCharacter},
	}
	for _, tc := range cases {
		_, rowErr := NormalizeRow(tc.row, 5)
		if rowErr == nil {
			t.Fatalf("%s: expected row error, got none", tc.name)
		}
		if rowErr.Code != tc.wantCode {
			t.Fatalf("%s: expected code %s, got %s", tc.name, tc.wantCode, rowErr.Code)
		}
		if rowErr.RowNumber != 5 {
			t.Fatalf("%s: expected row number 5, got %d", tc.name, rowErr.RowNumber)
		}
	}
}

func TestNormalizeRow_Characteristics(t *testing.T) {
	rec, rowErr := NormalizeRow(RawRow{
		"sku":             "A-1",
		"name":            "  Widget   Pro ",
		"price":           "10",
		"characteristics": "Category=Peripherals; color=black",
		"warranty":        "2y",
	}, 2)
	if rowErr != nil {
		t.Fatalf("unexpected row error: %v", rowErr)
	}
	if rec.Name != "Widget Pro" {
		t.Fatalf("expected collapsed name, got %q", rec.Name)
	}
	if rec.Characteristics["category"] != "Peripherals" {
		t.Fatalf("expected category Peripherals, got %q", rec.Characteristics["category"])
	}
	if rec.Characteristics["color"] != "black" {
		t.Fatalf("expected color black, got %q", rec.Characteristics["color"])
	}
	// Unrecognized columns ride along as characteristics.
	if rec.Characteristics["warranty"] != "2y" {
		t.Fatalf("expected warranty 2y, got %q", rec.Characteristics["warranty"])
	}
}

func TestNormalizeRow_CharacteristicsJSONObject(t *testing.T) {
	rec, rowErr := NormalizeRow(RawRow{
		"sku":        "A-1",
		"name":       "Widget",
		"price":      "10",
		"attributes": `{"Category": "Peripherals", "Color": "black"}`,
	}, 3)
	if rowErr != nil {
		t.Fatalf("unexpected row error: %v", rowErr)
	}
	if rec.Characteristics["category"] != "Peripherals" || rec.Characteristics["color"] != "black" {
		t.Fatalf("unexpected characteristics: %v", rec.Characteristics)
	}
}
