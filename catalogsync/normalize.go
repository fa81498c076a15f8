package catalogsync

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Row-level error codes recorded in ParsingLog entries.
const (
	ErrCodeMissingSku       = "missing_sku"
	ErrCodeMissingName      = "missing_name"
	ErrCodeInvalidPrice     = "invalid_price"
	ErrCodeNegativePrice    = "negative_price"
	ErrCodeInvalidCharacter = "invalid_characteristics"
)

// Column aliases accepted across supplier documents, checked in order.
var (
	skuColumns             = []string{"sku", "article", "code", "article_number"}
	nameColumns            = []string{"name", "title", "product_name", "description"}
	priceColumns           = []string{"price", "unit_price", "cost"}
	characteristicsColumns = []string{"characteristics", "attributes", "attrs"}
)

// NormalizeRow validates one raw row and shapes it into an IngestRecord.
// A nil error means the record is safe to match and upsert; a *RowError
// describes exactly one rejected row and never aborts the run.
func NormalizeRow(row RawRow, rowNumber int) (IngestRecord, *RowError) {
	rec := IngestRecord{RowNumber: rowNumber}

	rec.Sku = strings.TrimSpace(pickColumn(row, skuColumns))
	if rec.Sku == "" {
		return rec, &RowError{
			Code:      ErrCodeMissingSku,
			Message:   "row has no sku value",
			RowNumber: rowNumber,
			Raw:       row,
		}
	}

	rec.Name = collapseWhitespace(pickColumn(row, nameColumns))
	if rec.Name == "" {
		return rec, &RowError{
			Code:      ErrCodeMissingName,
			Message:   "row has no name value",
			RowNumber: rowNumber,
			Raw:       row,
		}
	}

	rawPrice := pickColumn(row, priceColumns)
	price, err := parsePrice(rawPrice)
	if err != nil {
		return rec, &RowError{
			Code:      ErrCodeInvalidPrice,
			Message:   "unparseable price " + strings.TrimSpace(rawPrice),
			RowNumber: rowNumber,
			Raw:       row,
		}
	}
	if price.IsNegative() {
		return rec, &RowError{
			Code:      ErrCodeNegativePrice,
			Message:   "negative price " + price.String(),
			RowNumber: rowNumber,
			Raw:       row,
		}
	}
	rec.Price = price.Round(2)

	chars, err := parseCharacteristics(pickColumn(row, characteristicsColumns))
	if err != nil {
		return rec, &RowError{
			Code:      ErrCodeInvalidCharacter,
			Message:   err.Error(),
			RowNumber: rowNumber,
			Raw:       row,
		}
	}
	// Extra columns outside the recognized set ride along as
	// characteristics so supplier-specific fields are not lost.
	for label, value := range row {
		if value == "" || isKnownColumn(label) {
			continue
		}
		if _, ok := chars[label]; !ok {
			chars[label] = value
		}
	}
	rec.Characteristics = chars

	return rec, nil
}

func pickColumn(row RawRow, aliases []string) string {
	for _, alias := range aliases {
		if v, ok := row[alias]; ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func isKnownColumn(label string) bool {
	for _, group := range [][]string{skuColumns, nameColumns, priceColumns, characteristicsColumns} {
		for _, alias := range group {
			if label == alias {
				return true
			}
		}
	}
	return false
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parsePrice strips currency symbols and thousand separators before
// decimal parsing, so "USD 1,299.50" and "1299.5" land on the same value.
func parsePrice(raw string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return decimal.NewFromString(b.String())
}

// parseCharacteristics accepts either a JSON object of strings or
// "key=value;key=value" pairs. An empty cell yields an empty map.
func parseCharacteristics(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	chars := map[string]string{}
	if raw == "" {
		return chars, nil
	}

	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &chars); err != nil {
			return nil, &characteristicsError{raw: raw}
		}
		return normalizeCharKeys(chars), nil
	}

	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, &characteristicsError{raw: raw}
		}
		chars[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
	return chars, nil
}

func normalizeCharKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}

type characteristicsError struct {
	raw string
}

func (e *characteristicsError) Error() string {
	return "characteristics value is neither a JSON object nor key=value pairs"
}
