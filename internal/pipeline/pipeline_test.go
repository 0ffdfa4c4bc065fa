package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/dataset"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/fiscal"
	"github.com/dvloznov/donation-tracker/internal/report"
	"github.com/dvloznov/donation-tracker/internal/skyapi"
)

const testBaseURL = "https://api.test"

type stepFunc func(ctx context.Context, state *PipelineState) error

func (f stepFunc) Execute(ctx context.Context, state *PipelineState) error { return f(ctx, state) }

func giftDoc(id, constituent, amount, date, dateAdded, receipt string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"constituent_id": %q,
		"type": "Donation",
		"amount": {"value": %s},
		"date": %q,
		"date_added": %q,
		"receipts": [{"date": %q}],
		"gift_splits": [{"campaign_id": "camp-1", "amount": {"value": %s}}]
	}`, id, constituent, amount, date, dateAdded, receipt, amount)
}

func decode(t *testing.T, s string) interface{} {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("decoding fixture: %v", err)
	}
	return v
}

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		GCSBucket: "archive-bucket",
		API: config.APIConfig{
			BaseURL:        testBaseURL,
			GiftTypes:      []string{"Donation", "PledgePayment"},
			LookbackMonths: 12,
		},
		Storage: config.StorageConfig{
			CacheDir:        filepath.Join(dir, "cache"),
			PagePrefix:      "Gift_List_in_RE",
			RawSnapshotPath: filepath.Join(dir, "gifts_raw.jsonl"),
			SnapshotPath:    filepath.Join(dir, "gifts.parquet"),
		},
		Mail: config.MailConfig{
			From:    "reports@example.org",
			To:      []string{"team@example.org"},
			Cc:      []string{"board@example.org"},
			ErrorTo: []string{"ops@example.org"},
			Subject: "Donation Summary",
		},
	}
}

// twoPageFetcher serves the gift list as two pages and records the requests.
func twoPageFetcher(t *testing.T, calls *[]url.Values, failSecond error) *MockFetcher {
	first := `{"count": 2, "value": [` +
		giftDoc("g1", "c1", "1000", "2024-05-10T00:00:00", "2024-05-11T10:00:00+05:30", "2024-05-12T00:00:00") +
		`], "next_link": "` + testBaseURL + `/gift/v1/gifts?offset=1"}`
	second := `{"count": 2, "value": [` +
		giftDoc("g2", "c2", "3499.50", "2024-06-10T00:00:00", "2024-06-11T10:00:00+05:30", "2024-06-12T00:00:00") +
		`]}`

	return &MockFetcher{
		GetFunc: func(ctx context.Context, rawURL string, params url.Values) (*skyapi.Response, error) {
			*calls = append(*calls, params)
			switch rawURL {
			case skyapi.GiftListURL(testBaseURL):
				return &skyapi.Response{URL: rawURL, StatusCode: 200, Document: decode(t, first)}, nil
			case testBaseURL + "/gift/v1/gifts?offset=1":
				if failSecond != nil {
					return nil, failSecond
				}
				return &skyapi.Response{URL: rawURL, StatusCode: 200, Document: decode(t, second)}, nil
			}
			t.Fatalf("unexpected URL %s", rawURL)
			return nil, nil
		},
	}
}

func cachedPages(t *testing.T, cfg config.Config) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(cfg.Storage.CacheDir, cfg.Storage.PagePrefix+"_*.json"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func TestDigestPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	money, err := report.NewMoney("en-IN", "INR")
	if err != nil {
		t.Skipf("locale data unavailable: %v", err)
	}

	var calls []url.Values
	var replacedRunID string
	var replacedGifts []domain.Gift
	var uploaded []string
	mailer := &MockMailer{}

	p := NewDigestPipeline(Deps{
		Config: cfg,
		API:    twoPageFetcher(t, &calls, nil),
		Lookup: &MockLookup{},
		Money:  money,
		Mailer: mailer,
		Warehouse: &MockGiftRepository{
			ReplaceSnapshotFunc: func(ctx context.Context, runID string, gifts []domain.Gift) error {
				replacedRunID = runID
				replacedGifts = gifts
				return nil
			},
		},
		Archive: &MockStore{
			UploadFileFunc: func(ctx context.Context, bucket, object, path string) error {
				uploaded = append(uploaded, bucket+"/"+object)
				return nil
			},
		},
	})

	state := NewState(time.Date(2024, time.June, 15, 9, 0, 0, 0, time.UTC), time.UTC)
	if err := p.Execute(ctx, state); err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	// Request shape: filters on the first page only.
	if len(calls) != 2 {
		t.Fatalf("got %d requests, want 2", len(calls))
	}
	if got := calls[0].Get("start_gift_date"); got != "04-01-2023" {
		t.Errorf("start_gift_date = %q, want 04-01-2023", got)
	}
	if got := calls[0]["gift_type"]; len(got) != 2 {
		t.Errorf("gift_type = %v", got)
	}
	if calls[1] != nil {
		t.Errorf("cursor request carried params: %v", calls[1])
	}

	// Snapshot outputs.
	if len(state.Gifts) != 2 {
		t.Fatalf("gifts = %d, want 2", len(state.Gifts))
	}
	if _, err := os.Stat(cfg.Storage.RawSnapshotPath); err != nil {
		t.Errorf("raw snapshot missing: %v", err)
	}
	saved, err := dataset.LoadParquet(ctx, cfg.Storage.SnapshotPath)
	if err != nil {
		t.Fatalf("LoadParquet error: %v", err)
	}
	if len(saved) != 2 {
		t.Errorf("parquet rows = %d, want 2", len(saved))
	}
	if replacedRunID != state.RunID || len(replacedGifts) != 2 {
		t.Errorf("warehouse got run %q with %d gifts", replacedRunID, len(replacedGifts))
	}
	wantObject := "archive-bucket/donation-digest/2024-25/" + state.RunID + "/gifts.parquet"
	if len(uploaded) != 1 || uploaded[0] != wantObject {
		t.Errorf("uploaded = %v, want [%s]", uploaded, wantObject)
	}

	// Report and mail.
	if !state.Report.YTDCurrent.Equal(decimal.RequireFromString("4499.50")) {
		t.Errorf("YTDCurrent = %s, want 4499.50", state.Report.YTDCurrent)
	}
	if len(state.Report.Weekly) != 1 || state.Report.Weekly[0].GiftID != "g2" {
		t.Errorf("weekly = %+v", state.Report.Weekly)
	}
	if len(mailer.Sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(mailer.Sent))
	}
	msg := mailer.Sent[0]
	if msg.Subject != "Donation Summary" || msg.To[0] != "team@example.org" || msg.Cc[0] != "board@example.org" {
		t.Errorf("message envelope = %+v", msg)
	}
	if len(msg.ReplyTo) != 1 || msg.ReplyTo[0] != "reports@example.org" {
		t.Errorf("ReplyTo = %v", msg.ReplyTo)
	}
	if !strings.Contains(msg.HTML, "4,499.50") {
		t.Error("digest does not show the year-to-date total")
	}

	// Housekeeping ran at the end.
	if left := cachedPages(t, cfg); len(left) != 0 {
		t.Errorf("page cache not cleared: %v", left)
	}
}

func TestDigestPipeline_FetchFailureAbortsRun(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.GCSBucket = ""

	money, err := report.NewMoney("en-IN", "INR")
	if err != nil {
		t.Skipf("locale data unavailable: %v", err)
	}

	apiErr := &skyapi.APIError{StatusCode: 401, Message: "Access token expired"}
	var calls []url.Values
	mailer := &MockMailer{}
	p := NewDigestPipeline(Deps{
		Config: cfg,
		API:    twoPageFetcher(t, &calls, apiErr),
		Lookup: &MockLookup{},
		Money:  money,
		Mailer: mailer,
	})

	state := NewState(time.Date(2024, time.June, 15, 9, 0, 0, 0, time.UTC), time.UTC)
	err = p.Execute(ctx, state)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "pipeline step 2 failed") {
		t.Errorf("error = %v, want step 2", err)
	}
	var got *skyapi.APIError
	if !errors.As(err, &got) || got.StatusCode != 401 {
		t.Errorf("error does not wrap the API error: %v", err)
	}
	if len(state.Pages) != 1 {
		t.Errorf("pages = %d, want the one page written before the failure", len(state.Pages))
	}
	if len(mailer.Sent) != 0 {
		t.Error("no report may be sent after a failure")
	}
	if state.Report != nil {
		t.Error("no report may be built after a failure")
	}
	if left := cachedPages(t, cfg); len(left) != 0 {
		t.Errorf("page cache not cleared after failure: %v", left)
	}
}

func TestDigestPipeline_OptionalSteps(t *testing.T) {
	cfg := testConfig(t)

	tests := []struct {
		name      string
		deps      Deps
		bucket    string
		wantSteps int
	}{
		{"local only", Deps{}, "", 8},
		{"warehouse", Deps{Warehouse: &MockGiftRepository{}}, "", 9},
		{"archive without bucket", Deps{Archive: &MockStore{}}, "", 8},
		{"archive and warehouse", Deps{Warehouse: &MockGiftRepository{}, Archive: &MockStore{}}, "b", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.deps
			d.Config = cfg
			d.Config.GCSBucket = tt.bucket
			p := NewDigestPipeline(d)
			if len(p.steps) != tt.wantSteps {
				t.Errorf("steps = %d, want %d", len(p.steps), tt.wantSteps)
			}
			if len(p.cleanup) != 1 {
				t.Errorf("cleanup steps = %d, want 1", len(p.cleanup))
			}
		})
	}
}

func TestPipeline_Execute(t *testing.T) {
	var order []string
	record := func(name string, err error) PipelineStep {
		return stepFunc(func(ctx context.Context, state *PipelineState) error {
			order = append(order, name)
			return err
		})
	}

	boom := errors.New("boom")
	p := NewPipeline(record("a", nil), record("b", boom), record("c", nil)).
		Finally(record("cleanup", errors.New("ignored")))

	err := p.Execute(context.Background(), &PipelineState{})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
	if !strings.HasPrefix(err.Error(), "pipeline step 2 failed") {
		t.Errorf("error = %q", err.Error())
	}
	if got := strings.Join(order, ","); got != "a,b,cleanup" {
		t.Errorf("order = %s, want a,b,cleanup", got)
	}
}

func TestPipeline_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	cleaned := false
	p := NewPipeline(stepFunc(func(ctx context.Context, state *PipelineState) error {
		ran = true
		return nil
	})).Finally(stepFunc(func(ctx context.Context, state *PipelineState) error {
		cleaned = ctx.Err() == nil
		return nil
	}))

	if err := p.Execute(ctx, &PipelineState{}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if ran {
		t.Error("step ran after cancellation")
	}
	if !cleaned {
		t.Error("cleanup did not run with a live context")
	}
}

func TestFetchFrom(t *testing.T) {
	w := fiscal.WindowFor(civil.Date{Year: 2024, Month: time.June, Day: 15})
	tests := []struct {
		lookback int
		want     civil.Date
	}{
		{0, civil.Date{Year: 2024, Month: time.April, Day: 1}},
		{12, civil.Date{Year: 2023, Month: time.April, Day: 1}},
		{3, civil.Date{Year: 2024, Month: time.January, Day: 1}},
	}
	for _, tt := range tests {
		if got := FetchFrom(w, tt.lookback); got != tt.want {
			t.Errorf("FetchFrom(lookback=%d) = %v, want %v", tt.lookback, got, tt.want)
		}
	}
}

func TestNewState(t *testing.T) {
	a := NewState(time.Date(2024, time.April, 3, 12, 0, 0, 0, time.UTC), time.UTC)
	b := NewState(time.Date(2024, time.April, 3, 12, 0, 0, 0, time.UTC), time.UTC)
	if a.RunID == "" || a.RunID == b.RunID {
		t.Errorf("run ids %q and %q must be unique", a.RunID, b.RunID)
	}
	if a.Window.Year != 2023 {
		t.Errorf("Window.Year = %d, want 2023 inside the April grace period", a.Window.Year)
	}
}
