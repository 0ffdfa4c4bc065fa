package warehouse

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/donation-tracker/internal/domain"
)

// GiftRepository is the snapshot table as the pipeline sees it.
type GiftRepository interface {
	ReplaceSnapshot(ctx context.Context, runID string, gifts []domain.Gift) error
	ListGiftsSince(ctx context.Context, from civil.Date) ([]domain.Gift, error)
	Close() error
}

// BigQueryGiftRepository is the concrete implementation of GiftRepository
// that holds a shared BigQuery client.
type BigQueryGiftRepository struct {
	client *bigquery.Client
	table  Table
}

// NewBigQueryGiftRepository creates a repository for the given table.
func NewBigQueryGiftRepository(ctx context.Context, t Table) (*BigQueryGiftRepository, error) {
	client, err := bigquery.NewClient(ctx, t.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryGiftRepository: creating client: %w", err)
	}
	return &BigQueryGiftRepository{client: client, table: t}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryGiftRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ReplaceSnapshot delegates to ReplaceSnapshotWithClient with the shared client.
func (r *BigQueryGiftRepository) ReplaceSnapshot(ctx context.Context, runID string, gifts []domain.Gift) error {
	return ReplaceSnapshotWithClient(ctx, r.client, r.table, runID, gifts)
}

// ListGiftsSince delegates to ListGiftsSinceWithClient with the shared client.
func (r *BigQueryGiftRepository) ListGiftsSince(ctx context.Context, from civil.Date) ([]domain.Gift, error) {
	return ListGiftsSinceWithClient(ctx, r.client, r.table, from)
}
