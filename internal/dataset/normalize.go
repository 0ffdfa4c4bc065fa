package dataset

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/shopspring/decimal"
)

// ShapeError reports a record that does not have the shape a gift needs.
// One bad record fails the whole run.
type ShapeError struct {
	Row    int
	ID     string
	Field  string
	Reason string
}

func (e *ShapeError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("gift %d (id %s): field %q: %s", e.Row, e.ID, e.Field, e.Reason)
	}
	return fmt.Sprintf("gift %d: field %q: %s", e.Row, e.Field, e.Reason)
}

// Normalize converts every flattened row into a gift. It does not modify ds.
func Normalize(ds *Dataset) ([]domain.Gift, error) {
	gifts := make([]domain.Gift, 0, len(ds.Rows))
	for i, row := range ds.Rows {
		g, err := normalizeRow(row)
		if err != nil {
			if se, ok := err.(*ShapeError); ok {
				se.Row = i
				se.ID = g.ID
			}
			return nil, fmt.Errorf("Normalize: %w", err)
		}
		gifts = append(gifts, g)
	}
	return gifts, nil
}

func normalizeRow(row Row) (domain.Gift, error) {
	var g domain.Gift
	var err error

	if g.ID, err = getStringField(row, "id", true); err != nil {
		return g, err
	}
	if g.ConstituentID, err = getStringField(row, "constituent_id", true); err != nil {
		return g, err
	}
	if g.GiftType, err = getStringField(row, "type", false); err != nil {
		return g, err
	}
	if g.Amount, err = getDecimalField(row, "amount.value"); err != nil {
		return g, err
	}

	dateStr, err := getStringField(row, "date", true)
	if err != nil {
		return g, err
	}
	date, err := parseFlexibleTime(dateStr)
	if err != nil {
		return g, &ShapeError{Field: "date", Reason: err.Error()}
	}
	g.Date = civil.DateOf(date)

	addedStr, err := getStringField(row, "date_added", true)
	if err != nil {
		return g, err
	}
	if g.DateAdded, err = parseFlexibleTime(addedStr); err != nil {
		return g, &ShapeError{Field: "date_added", Reason: err.Error()}
	}

	if g.ReceiptDate, err = receiptDate(row, g.DateAdded); err != nil {
		return g, err
	}
	if g.CampaignID, err = firstSplitCampaign(row); err != nil {
		return g, err
	}
	return g, nil
}

// receiptDate is the date of the first receipt, or the date the record
// was added when no receipt date is present.
func receiptDate(row Row, dateAdded time.Time) (civil.Date, error) {
	receipts, err := getListField(row, "receipts", false)
	if err != nil {
		return civil.Date{}, err
	}
	if len(receipts) > 0 {
		first, ok := receipts[0].(map[string]interface{})
		if !ok {
			return civil.Date{}, &ShapeError{Field: "receipts", Reason: fmt.Sprintf("first entry is %T, want object", receipts[0])}
		}
		s, err := nestedString(first, "receipts[0].date", "date")
		if err != nil {
			return civil.Date{}, err
		}
		if s != "" {
			t, err := parseFlexibleTime(s)
			if err != nil {
				return civil.Date{}, &ShapeError{Field: "receipts[0].date", Reason: err.Error()}
			}
			return civil.DateOf(t), nil
		}
	}
	return civil.DateOf(dateAdded), nil
}

// firstSplitCampaign is the campaign of the first gift split.
func firstSplitCampaign(row Row) (string, error) {
	splits, err := getListField(row, "gift_splits", true)
	if err != nil {
		return "", err
	}
	if len(splits) == 0 {
		return "", &ShapeError{Field: "gift_splits", Reason: "empty list, campaign cannot be determined"}
	}
	first, ok := splits[0].(map[string]interface{})
	if !ok {
		return "", &ShapeError{Field: "gift_splits", Reason: fmt.Sprintf("first entry is %T, want object", splits[0])}
	}
	id, err := nestedString(first, "gift_splits[0].campaign_id", "campaign_id")
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", &ShapeError{Field: "gift_splits[0].campaign_id", Reason: "missing required field"}
	}
	return id, nil
}

// nestedString reads an optional string from an object inside a list
// column, reporting problems under the full path.
func nestedString(m map[string]interface{}, path, key string) (string, error) {
	switch v := m[key].(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", &ShapeError{Field: path, Reason: fmt.Sprintf("has type %T, want string", v)}
	}
}

// dateLayouts are tried in order. Month-first numeric dates are accepted,
// day-first ones are not.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	"01/02/2006",
	"01-02-2006",
}

// parseFlexibleTime parses the ISO-8601-like timestamps the API returns.
// Values without an offset are taken as UTC.
func parseFlexibleTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", &ShapeError{Field: key, Reason: "missing required field"}
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", &ShapeError{Field: key, Reason: "required field is empty"}
		}
		return strings.TrimSpace(val), nil
	case json.Number:
		return val.String(), nil
	default:
		return "", &ShapeError{Field: key, Reason: fmt.Sprintf("has type %T, want string", v)}
	}
}

func getDecimalField(m map[string]interface{}, key string) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return decimal.Decimal{}, &ShapeError{Field: key, Reason: "missing required field"}
	}
	var s string
	switch val := v.(type) {
	case json.Number:
		s = val.String()
	case string:
		s = strings.TrimSpace(val)
	case float64:
		return decimal.NewFromFloat(val), nil
	default:
		return decimal.Decimal{}, &ShapeError{Field: key, Reason: fmt.Sprintf("has type %T, want number", v)}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &ShapeError{Field: key, Reason: fmt.Sprintf("non-numeric value %q", s)}
	}
	return d, nil
}

func getListField(m map[string]interface{}, key string, required bool) ([]interface{}, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return nil, &ShapeError{Field: key, Reason: "missing required field"}
		}
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, &ShapeError{Field: key, Reason: fmt.Sprintf("has type %T, want list", v)}
	}
	return list, nil
}
