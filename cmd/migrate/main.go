package main

import (
	"context"
	"flag"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/warehouse"
)

func main() {
	log := logger.New()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal().Err(err).Msg("Failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	projectID := flag.String("project", cfg.Warehouse.ProjectID, "GCP project ID (required)")
	datasetID := flag.String("dataset", cfg.Warehouse.DatasetID, "BigQuery dataset ID (required)")
	tableID := flag.String("table", cfg.Warehouse.TableID, "BigQuery table ID")
	flag.Parse()

	if *projectID == "" || *datasetID == "" {
		log.Fatal().Msg("Error: -project and -dataset are required (or set BQ_PROJECT and BQ_DATASET)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	t := warehouse.Table{ProjectID: *projectID, DatasetID: *datasetID, TableID: *tableID}
	log.Info().Str("project", t.ProjectID).Str("dataset", t.DatasetID).Str("table", t.TableID).Msg("Checking snapshot table")

	added, err := warehouse.EnsureTable(ctx, client, t)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	if len(added) == 0 {
		log.Info().Msg("Snapshot table is up to date")
		return
	}
	log.Info().Strs("columns", added).Msg("Snapshot table migrated")
}
