// Package warehouse keeps a BigQuery copy of the normalized gift snapshot.
package warehouse

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/donation-tracker/internal/domain"
)

// GiftRow is one row of the gifts snapshot table.
type GiftRow struct {
	GiftID        string              `bigquery:"gift_id"`        // REQUIRED
	ConstituentID string              `bigquery:"constituent_id"` // REQUIRED
	CampaignID    string              `bigquery:"campaign_id"`    // REQUIRED
	GiftType      bigquery.NullString `bigquery:"gift_type"`      // NULLABLE

	Amount *big.Rat `bigquery:"amount"` // REQUIRED NUMERIC

	GiftDate    civil.Date `bigquery:"gift_date"`    // REQUIRED
	DateAdded   time.Time  `bigquery:"date_added"`   // REQUIRED
	ReceiptDate civil.Date `bigquery:"receipt_date"` // REQUIRED

	RunID    string    `bigquery:"run_id"`    // REQUIRED
	LoadedTS time.Time `bigquery:"loaded_ts"` // REQUIRED
}

// NewGiftRow converts a normalized gift into a table row.
func NewGiftRow(g domain.Gift, runID string, loadedAt time.Time) *GiftRow {
	return &GiftRow{
		GiftID:        g.ID,
		ConstituentID: g.ConstituentID,
		CampaignID:    g.CampaignID,
		GiftType:      bigquery.NullString{StringVal: g.GiftType, Valid: g.GiftType != ""},
		Amount:        g.Amount.Rat(),
		GiftDate:      g.Date,
		DateAdded:     g.DateAdded.UTC(),
		ReceiptDate:   g.ReceiptDate,
		RunID:         runID,
		LoadedTS:      loadedAt.UTC(),
	}
}

// Gift converts the row back into a domain gift.
func (r *GiftRow) Gift() (domain.Gift, error) {
	if r.Amount == nil {
		return domain.Gift{}, fmt.Errorf("Gift: row %s has no amount", r.GiftID)
	}
	return domain.Gift{
		ID:            r.GiftID,
		ConstituentID: r.ConstituentID,
		CampaignID:    r.CampaignID,
		GiftType:      r.GiftType.StringVal,
		Amount:        decimal.NewFromBigRat(r.Amount, 2),
		Date:          r.GiftDate,
		DateAdded:     r.DateAdded,
		ReceiptDate:   r.ReceiptDate,
	}, nil
}

// MarshalJSON encodes the row in the newline-delimited JSON load format.
// NUMERIC travels as a decimal string to avoid float rounding.
func (r *GiftRow) MarshalJSON() ([]byte, error) {
	if r.Amount == nil {
		return nil, errors.New("MarshalJSON: amount is required")
	}
	var giftType *string
	if r.GiftType.Valid {
		giftType = &r.GiftType.StringVal
	}
	return json.Marshal(struct {
		GiftID        string  `json:"gift_id"`
		ConstituentID string  `json:"constituent_id"`
		CampaignID    string  `json:"campaign_id"`
		GiftType      *string `json:"gift_type"`
		Amount        string  `json:"amount"`
		GiftDate      string  `json:"gift_date"`
		DateAdded     string  `json:"date_added"`
		ReceiptDate   string  `json:"receipt_date"`
		RunID         string  `json:"run_id"`
		LoadedTS      string  `json:"loaded_ts"`
	}{
		GiftID:        r.GiftID,
		ConstituentID: r.ConstituentID,
		CampaignID:    r.CampaignID,
		GiftType:      giftType,
		Amount:        r.Amount.FloatString(2),
		GiftDate:      r.GiftDate.String(),
		DateAdded:     r.DateAdded.UTC().Format(time.RFC3339Nano),
		ReceiptDate:   r.ReceiptDate.String(),
		RunID:         r.RunID,
		LoadedTS:      r.LoadedTS.UTC().Format(time.RFC3339Nano),
	})
}

// GiftSchema is the table schema inferred from GiftRow.
func GiftSchema() (bigquery.Schema, error) {
	schema, err := bigquery.InferSchema(GiftRow{})
	if err != nil {
		return nil, fmt.Errorf("GiftSchema: inferring schema: %w", err)
	}
	return schema, nil
}
