// Package report computes the year-to-date, monthly and weekly donation
// summaries of a financial year and labels weekly gifts with donor and
// campaign names.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/fiscal"
	"github.com/dvloznov/donation-tracker/internal/skyapi"
	"github.com/shopspring/decimal"
)

// DateFormat is how weekly rows show the date of credit.
const DateFormat = "02-01-2006"

// Lookup resolves display names. *skyapi.Resolver implements it.
type Lookup interface {
	ResolveDonor(ctx context.Context, id string) (skyapi.Donor, error)
	ResolveCampaign(ctx context.Context, id string) (string, error)
}

// MonthTotal is the sum of one calendar month.
type MonthTotal struct {
	Year      int
	Month     time.Month
	Label     string
	Amount    decimal.Decimal
	Formatted string
}

// WeeklyRow is one recent gift with display columns.
type WeeklyRow struct {
	GiftID      string
	ReceiptDate civil.Date
	Amount      decimal.Decimal
	Formatted   string
	DonorName   string // individuals
	CompanyName string // organisations
	Campaign    string
}

// DateOfCredit renders the receipt date as dd-mm-yyyy.
func (r WeeklyRow) DateOfCredit() string {
	return r.ReceiptDate.In(time.UTC).Format(DateFormat)
}

// Report is everything a digest shows for one run.
type Report struct {
	Window              fiscal.Window
	YTDCurrent          decimal.Decimal
	YTDCurrentFormatted string
	YTDPrior            decimal.Decimal
	YTDPriorFormatted   string
	Monthly             []MonthTotal
	Weekly              []WeeklyRow
	GiftCount           int
}

// YTDCurrent sums gifts receipted on or after the financial year start.
func YTDCurrent(gifts []domain.Gift, w fiscal.Window) decimal.Decimal {
	total := decimal.Zero
	for _, g := range gifts {
		if fiscal.OnOrAfter(g.ReceiptDate, w.Start) {
			total = total.Add(g.Amount)
		}
	}
	return total
}

// YTDPrior sums gifts receipted this financial year but dated before it.
func YTDPrior(gifts []domain.Gift, w fiscal.Window) decimal.Decimal {
	total := decimal.Zero
	for _, g := range gifts {
		if fiscal.OnOrAfter(g.ReceiptDate, w.Start) && g.Date.Before(w.Start) {
			total = total.Add(g.Amount)
		}
	}
	return total
}

// Monthly sums gifts receipted this financial year per calendar month, in
// financial-year order. During the April grace period the current April
// follows March. Months whose sum is not positive are left out. When the
// same month name occurs in two years the labels carry the year.
func Monthly(gifts []domain.Gift, w fiscal.Window) []MonthTotal {
	months := w.Months()
	if w.Today.After(w.End) {
		months = append(months, fiscal.MonthOf(w.Today))
	}

	var out []MonthTotal
	names := make(map[time.Month]int)
	for _, mr := range months {
		sum := decimal.Zero
		for _, g := range gifts {
			if fiscal.OnOrAfter(g.ReceiptDate, mr.First) && fiscal.OnOrBefore(g.ReceiptDate, mr.Last) {
				sum = sum.Add(g.Amount)
			}
		}
		if !sum.IsPositive() {
			continue
		}
		out = append(out, MonthTotal{Year: mr.Year, Month: mr.Month, Amount: sum})
		names[mr.Month]++
	}
	for i := range out {
		out[i].Label = out[i].Month.String()
		if names[out[i].Month] > 1 {
			out[i].Label = fmt.Sprintf("%s %d", out[i].Month, out[i].Year)
		}
	}
	return out
}

// Weekly returns the gifts receipted in the seven days up to and including
// today that also fall in the financial year, newest first. Gifts with the
// same receipt date keep their dataset order.
func Weekly(gifts []domain.Gift, w fiscal.Window) []domain.Gift {
	from := w.WeekStart()
	var out []domain.Gift
	for _, g := range gifts {
		r := g.ReceiptDate
		if fiscal.OnOrAfter(r, from) && fiscal.OnOrBefore(r, w.Today) && fiscal.OnOrAfter(r, w.Start) {
			out = append(out, g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceiptDate.After(out[j].ReceiptDate)
	})
	return out
}

// Enrich resolves donor and campaign names for weekly gifts. Any lookup
// failure fails the whole report.
func Enrich(ctx context.Context, gifts []domain.Gift, lookup Lookup, money *Money) ([]WeeklyRow, error) {
	rows := make([]WeeklyRow, 0, len(gifts))
	for _, g := range gifts {
		donor, err := lookup.ResolveDonor(ctx, g.ConstituentID)
		if err != nil {
			return nil, fmt.Errorf("Enrich: gift %s: %w", g.ID, err)
		}
		campaign, err := lookup.ResolveCampaign(ctx, g.CampaignID)
		if err != nil {
			return nil, fmt.Errorf("Enrich: gift %s: %w", g.ID, err)
		}

		row := WeeklyRow{
			GiftID:      g.ID,
			ReceiptDate: g.ReceiptDate,
			Amount:      g.Amount,
			Formatted:   money.Format(g.Amount),
			Campaign:    campaign,
		}
		if donor.Individual {
			row.DonorName = donor.Name
		} else {
			row.CompanyName = donor.Name
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Build computes every aggregate of the digest.
func Build(ctx context.Context, gifts []domain.Gift, w fiscal.Window, lookup Lookup, money *Money) (*Report, error) {
	r := &Report{
		Window:     w,
		YTDCurrent: YTDCurrent(gifts, w),
		YTDPrior:   YTDPrior(gifts, w),
		Monthly:    Monthly(gifts, w),
		GiftCount:  len(gifts),
	}
	r.YTDCurrentFormatted = money.Format(r.YTDCurrent)
	r.YTDPriorFormatted = money.Format(r.YTDPrior)
	for i := range r.Monthly {
		r.Monthly[i].Formatted = money.Format(r.Monthly[i].Amount)
	}

	weekly, err := Enrich(ctx, Weekly(gifts, w), lookup, money)
	if err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}
	r.Weekly = weekly
	return r, nil
}
