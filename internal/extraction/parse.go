package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Parse errors. Both mean nothing trustworthy came out of the response and
// fail the whole job; a response that decomposes into zero records is not an
// error.
var (
	// ErrUnparseable means the response held no recognizable item records.
	ErrUnparseable = errors.New("no item records found in model response")
	// ErrNoValidItems means records were present but every one failed
	// validation.
	ErrNoValidItems = errors.New("every extracted item failed validation")
)

// Item is one validated line item extracted from a receipt. It is ephemeral:
// produced here, consumed by the reconciler, never stored verbatim.
type Item struct {
	Description  string
	Amount       int // Amount in cents
	Date         time.Time
	CategoryHint string
	Confidence   float64 // 0 when the model supplied none
}

// DroppedItem records a candidate rejected during validation, kept for
// logging only.
type DroppedItem struct {
	Index  int
	Reason string
}

// Result is the outcome of parsing one extraction response.
type Result struct {
	Items   []Item
	Dropped []DroppedItem
}

// placeholderDescription is used when the model omits an item's description.
// Amount is the primary signal for a budget ledger, so such items are kept.
const placeholderDescription = "Unlabeled item"

// dateFormats are tried in order when parsing item dates. Models mostly obey
// the ISO 8601 instruction but occasionally echo the receipt's own format.
var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
}

// rawItem mirrors one record of the model's JSON array. Amount and
// confidence are decoded loosely since models sometimes quote numbers.
type rawItem struct {
	Description string          `json:"description"`
	Amount      json.RawMessage `json:"amount"`
	Date        string          `json:"date"`
	Category    string          `json:"category"`
	Confidence  json.RawMessage `json:"confidence"`
}

// ParseItems turns the raw model response into validated items. Individual
// bad records are dropped with a reason; the whole batch fails only when no
// records are recognizable or none survive validation. fallbackDate fills in
// for items with a missing or unparseable date.
func ParseItems(raw string, fallbackDate time.Time) (*Result, error) {
	records, err := decodeRecords(raw)
	if err != nil {
		return nil, err
	}

	result := &Result{Items: make([]Item, 0, len(records))}
	for i, rec := range records {
		var candidate rawItem
		if err := json.Unmarshal(rec, &candidate); err != nil {
			result.Dropped = append(result.Dropped, DroppedItem{Index: i, Reason: fmt.Sprintf("malformed record: %v", err)})
			continue
		}

		item, reason := validateItem(candidate, fallbackDate)
		if reason != "" {
			result.Dropped = append(result.Dropped, DroppedItem{Index: i, Reason: reason})
			continue
		}
		result.Items = append(result.Items, item)
	}

	if len(records) > 0 && len(result.Items) == 0 {
		return nil, fmt.Errorf("%w (%d candidates dropped)", ErrNoValidItems, len(result.Dropped))
	}
	return result, nil
}

// decodeRecords locates the JSON array in the response and splits it into
// raw records without committing to any record's shape yet.
func decodeRecords(raw string) ([]json.RawMessage, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, ErrUnparseable
	}

	var records []json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return records, nil
}

// validateItem applies the per-item rules. A non-empty reason means the item
// is dropped. Invalid dates are a field-level problem only and fall back to
// the receipt's upload date.
func validateItem(candidate rawItem, fallbackDate time.Time) (Item, string) {
	amount, ok := decodeNumber(candidate.Amount)
	if !ok {
		return Item{}, "amount missing or not a number"
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Item{}, "amount is not finite"
	}
	if amount < 0 {
		return Item{}, fmt.Sprintf("amount is negative (%v)", amount)
	}

	item := Item{
		Description:  strings.TrimSpace(candidate.Description),
		Amount:       int(math.Round(amount * 100)),
		Date:         fallbackDate,
		CategoryHint: strings.TrimSpace(candidate.Category),
	}
	if item.Description == "" {
		item.Description = placeholderDescription
	}

	for _, format := range dateFormats {
		if d, err := time.Parse(format, strings.TrimSpace(candidate.Date)); err == nil {
			item.Date = d
			break
		}
	}

	if conf, ok := decodeNumber(candidate.Confidence); ok && conf >= 0 && conf <= 1 {
		item.Confidence = conf
	}

	return item, ""
}

// decodeNumber accepts a JSON number or a quoted numeric string. Models are
// told to emit numbers but don't always listen.
func decodeNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(strings.TrimPrefix(s, "$"))
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
