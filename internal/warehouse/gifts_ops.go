package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/logger"
)

// Table names the snapshot table.
type Table struct {
	ProjectID string
	DatasetID string
	TableID   string
}

func (t Table) sqlName() string {
	return fmt.Sprintf("`%s.%s.%s`", t.ProjectID, t.DatasetID, t.TableID)
}

// ReplaceSnapshot loads gifts into the snapshot table, replacing its contents.
func ReplaceSnapshot(ctx context.Context, t Table, runID string, gifts []domain.Gift) error {
	client, err := bigquery.NewClient(ctx, t.ProjectID)
	if err != nil {
		return fmt.Errorf("ReplaceSnapshot: bigquery client: %w", err)
	}
	defer client.Close()

	return ReplaceSnapshotWithClient(ctx, client, t, runID, gifts)
}

// ReplaceSnapshotWithClient runs a WRITE_TRUNCATE load job with the provided client.
// An empty gift list still truncates the table.
func ReplaceSnapshotWithClient(ctx context.Context, client *bigquery.Client, t Table, runID string, gifts []domain.Gift) error {
	log := logger.FromContext(ctx)

	payload, err := EncodeRows(gifts, runID, time.Now())
	if err != nil {
		return fmt.Errorf("ReplaceSnapshot: %w", err)
	}
	schema, err := GiftSchema()
	if err != nil {
		return fmt.Errorf("ReplaceSnapshot: %w", err)
	}

	src := bigquery.NewReaderSource(bytes.NewReader(payload))
	src.SourceFormat = bigquery.JSON
	src.Schema = schema

	loader := client.DatasetInProject(t.ProjectID, t.DatasetID).Table(t.TableID).LoaderFrom(src)
	loader.CreateDisposition = bigquery.CreateIfNeeded
	loader.WriteDisposition = bigquery.WriteTruncate

	job, err := loader.Run(ctx)
	if err != nil {
		return fmt.Errorf("ReplaceSnapshot: starting load job: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("ReplaceSnapshot: waiting for job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("ReplaceSnapshot: job %s failed: %w", job.ID(), err)
	}

	log.Info().
		Str("table", t.sqlName()).
		Str("job_id", job.ID()).
		Int("rows", len(gifts)).
		Msg("Warehouse snapshot replaced")
	return nil
}

// EncodeRows renders gifts as newline-delimited JSON rows.
func EncodeRows(gifts []domain.Gift, runID string, loadedAt time.Time) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, g := range gifts {
		if err := enc.Encode(NewGiftRow(g, runID, loadedAt)); err != nil {
			return nil, fmt.Errorf("EncodeRows: gift %s: %w", g.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// ListGiftsSinceWithClient reads back gifts receipted on or after from
// using the provided BigQuery client.
func ListGiftsSinceWithClient(ctx context.Context, client *bigquery.Client, t Table, from civil.Date) ([]domain.Gift, error) {
	q := client.Query(`
		SELECT
			gift_id,
			constituent_id,
			campaign_id,
			gift_type,
			amount,
			gift_date,
			date_added,
			receipt_date,
			run_id,
			loaded_ts
		FROM ` + t.sqlName() + `
		WHERE receipt_date >= @from_date
		ORDER BY receipt_date, gift_id
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "from_date", Value: from},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListGiftsSince: query read: %w", err)
	}

	var gifts []domain.Gift
	for {
		var r GiftRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListGiftsSince: iter next: %w", err)
		}
		g, err := r.Gift()
		if err != nil {
			return nil, fmt.Errorf("ListGiftsSince: %w", err)
		}
		gifts = append(gifts, g)
	}

	return gifts, nil
}
