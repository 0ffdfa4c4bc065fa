package warehouse

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/donation-tracker/internal/logger"
)

// EnsureTable creates the dataset and the snapshot table when missing, and
// adds any GiftRow columns an existing table lacks. It returns the names
// of the columns it added.
func EnsureTable(ctx context.Context, client *bigquery.Client, t Table) ([]string, error) {
	log := logger.FromContext(ctx)

	want, err := GiftSchema()
	if err != nil {
		return nil, fmt.Errorf("EnsureTable: %w", err)
	}

	ds := client.DatasetInProject(t.ProjectID, t.DatasetID)
	if _, err := ds.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("EnsureTable: reading dataset %s: %w", t.DatasetID, err)
		}
		if err := ds.Create(ctx, &bigquery.DatasetMetadata{}); err != nil {
			return nil, fmt.Errorf("EnsureTable: creating dataset %s: %w", t.DatasetID, err)
		}
		log.Info().Str("dataset", t.DatasetID).Msg("Dataset created")
	}

	tbl := ds.Table(t.TableID)
	meta, err := tbl.Metadata(ctx)
	if err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("EnsureTable: reading table %s: %w", t.sqlName(), err)
		}
		err := tbl.Create(ctx, &bigquery.TableMetadata{
			Schema:      want,
			Description: "Normalized gift snapshot, replaced on every digest run",
			TimePartitioning: &bigquery.TimePartitioning{
				Type:  bigquery.MonthPartitioningType,
				Field: "receipt_date",
			},
		})
		if err != nil {
			return nil, fmt.Errorf("EnsureTable: creating table %s: %w", t.sqlName(), err)
		}
		log.Info().Str("table", t.sqlName()).Msg("Table created")
		return nil, nil
	}

	missing := missingFields(meta.Schema, want)
	if len(missing) == 0 {
		return nil, nil
	}

	update := bigquery.TableMetadataToUpdate{Schema: append(meta.Schema, missing...)}
	if _, err := tbl.Update(ctx, update, meta.ETag); err != nil {
		return nil, fmt.Errorf("EnsureTable: adding columns to %s: %w", t.sqlName(), err)
	}

	added := make([]string, 0, len(missing))
	for _, f := range missing {
		added = append(added, f.Name)
	}
	log.Info().Str("table", t.sqlName()).Strs("columns", added).Msg("Columns added")
	return added, nil
}

// missingFields returns the fields of want absent from have. BigQuery only
// accepts new columns as NULLABLE, so the copies are relaxed.
func missingFields(have, want bigquery.Schema) bigquery.Schema {
	present := make(map[string]bool, len(have))
	for _, f := range have {
		present[f.Name] = true
	}
	var out bigquery.Schema
	for _, f := range want {
		if present[f.Name] {
			continue
		}
		cp := *f
		cp.Required = false
		out = append(out, &cp)
	}
	return out
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
