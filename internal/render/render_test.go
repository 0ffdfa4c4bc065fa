package render

import (
	"errors"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/donation-tracker/internal/fiscal"
	"github.com/dvloznov/donation-tracker/internal/report"
)

func sampleReport() *report.Report {
	return &report.Report{
		Window:              fiscal.WindowFor(civil.Date{Year: 2024, Month: time.June, Day: 15}),
		YTDCurrentFormatted: "₹ 4,499.50",
		YTDPriorFormatted:   "₹ 0.00",
		Monthly: []report.MonthTotal{
			{Label: "April", Formatted: "₹ 1,000.00"},
			{Label: "May", Formatted: "₹ 2,500.50"},
		},
		Weekly: []report.WeeklyRow{
			{
				ReceiptDate: civil.Date{Year: 2024, Month: time.June, Day: 12},
				Formatted:   "₹ 999.00",
				CompanyName: "Smith & <Sons>",
				Campaign:    "Mid-day Meals",
			},
		},
	}
}

func TestDigest(t *testing.T) {
	html, err := Digest(sampleReport())
	if err != nil {
		t.Fatalf("Digest error: %v", err)
	}

	for _, want := range []string{
		"FY 2024-25",
		"₹ 4,499.50",
		"<td>April</td>",
		"<td>May</td>",
		"<th>Purpose/ Project Description</th>",
		"<td>12-06-2024</td>",
		"Smith &amp; &lt;Sons&gt;",
		"15 June 2024",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("digest missing %q", want)
		}
	}
	if strings.Index(html, "<td>April</td>") > strings.Index(html, "<td>May</td>") {
		t.Error("months out of order")
	}
}

func TestDigest_EmptySections(t *testing.T) {
	r := sampleReport()
	r.Monthly = nil
	r.Weekly = nil

	html, err := Digest(r)
	if err != nil {
		t.Fatalf("Digest error: %v", err)
	}
	if !strings.Contains(html, "No donations were received in the last 7 days.") {
		t.Error("missing empty weekly message")
	}
	if strings.Contains(html, "Date of Credit") {
		t.Error("weekly table rendered without rows")
	}
}

func TestFailureNotice(t *testing.T) {
	html, err := FailureNotice(Failure{
		JobName:  "Donation Summary from Raisers Edge",
		RunID:    "run-1",
		FailedAt: time.Date(2024, time.June, 3, 7, 5, 9, 0, time.UTC),
		Err:      errors.New(`pipeline step 2 failed: status 401 <unauthorized>`),
	})
	if err != nil {
		t.Fatalf("FailureNotice error: %v", err)
	}

	for _, want := range []string{
		"Donation Summary from Raisers Edge",
		"03/06/2024 07:05:09",
		"run-1",
		"status 401 &lt;unauthorized&gt;",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("failure notice missing %q", want)
		}
	}
}
