package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Gift is one normalized gift record from the CRM gift list.
// This is a domain struct; the warehouse and parquet layers map it into
// their own row schemas.
type Gift struct {
	ID            string          // from "id"
	ConstituentID string          // from "constituent_id"
	CampaignID    string          // from "gift_splits[0].campaign_id"
	GiftType      string          // from "type"
	Amount        decimal.Decimal // from "amount.value"
	Date          civil.Date      // from "date"
	DateAdded     time.Time       // from "date_added"
	ReceiptDate   civil.Date      // from "receipts[0].date", else date_added
}
