package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/donation-tracker/internal/archive"
	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/dataset"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/fiscal"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/pagecache"
	"github.com/dvloznov/donation-tracker/internal/pipeline"
	"github.com/dvloznov/donation-tracker/internal/render"
	"github.com/dvloznov/donation-tracker/internal/report"
	"github.com/dvloznov/donation-tracker/internal/skyapi"
	"github.com/dvloznov/donation-tracker/internal/warehouse"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatal().Err(err).Msg("Failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log = log.Level(logger.ParseLevel(cfg.LogLevel))

	switch os.Args[1] {
	case "fetch":
		runFetch(log, cfg)
	case "materialize":
		runMaterialize(log, cfg)
	case "summary":
		runSummary(log, cfg)
	case "inspect":
		runInspect(log, cfg)
	case "housekeep":
		runHousekeep(log, cfg)
	case "upload":
		runUpload(log, cfg)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Donation Tracker CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  fetch        Clear the page cache and download the gift list")
	fmt.Println("  materialize  Build the raw and parquet snapshots from cached pages")
	fmt.Println("  summary      Print or render the digest from a snapshot")
	fmt.Println("  inspect      List cached pages and their cursors")
	fmt.Println("  housekeep    Delete cached pages")
	fmt.Println("  upload       Upload a file to GCS")
	fmt.Println("  help         Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func newContext(log zerolog.Logger, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return logger.WithContext(ctx, log), cancel
}

func runFetch(log zerolog.Logger, cfg config.Config) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	today := fs.String("today", "", "Run as of this date (YYYY-MM-DD), defaults to now")
	fs.Parse(os.Args[2:])

	w := window(log, cfg, *today)
	client, err := pipeline.NewAPIClient(cfg.API)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create API client")
	}

	ctx, cancel := newContext(log, cfg.RunTimeout)
	defer cancel()

	cache := pagecache.New(cfg.Storage.CacheDir, cfg.Storage.PagePrefix)
	state := &pipeline.PipelineState{Window: w}
	p := pipeline.NewPipeline(
		&pipeline.HousekeepStep{Cache: cache},
		&pipeline.FetchPagesStep{
			Cache:          cache,
			API:            client,
			BaseURL:        cfg.API.BaseURL,
			GiftTypes:      cfg.API.GiftTypes,
			LookbackMonths: cfg.API.LookbackMonths,
		},
	)
	if err := p.Execute(ctx, state); err != nil {
		log.Fatal().Err(err).Int("pages_cached", len(state.Pages)).Msg("Fetch failed")
	}

	fmt.Printf("Cached %d pages in %s\n", len(state.Pages), cfg.Storage.CacheDir)
}

func runMaterialize(log zerolog.Logger, cfg config.Config) {
	fs := flag.NewFlagSet("materialize", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	ctx, cancel := newContext(log, cfg.RunTimeout)
	defer cancel()

	cache := pagecache.New(cfg.Storage.CacheDir, cfg.Storage.PagePrefix)
	pages, err := cache.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list cached pages")
	}
	if len(pages) == 0 {
		log.Fatal().Str("dir", cfg.Storage.CacheDir).Msg("No cached pages; run 'cli fetch' first")
	}

	state := &pipeline.PipelineState{Pages: pages}
	p := pipeline.NewPipeline(
		&pipeline.MaterializeStep{RawSnapshotPath: cfg.Storage.RawSnapshotPath},
		&pipeline.NormalizeStep{},
		&pipeline.SaveSnapshotStep{Path: cfg.Storage.SnapshotPath},
	)
	if err := p.Execute(ctx, state); err != nil {
		log.Fatal().Err(err).Msg("Materialize failed")
	}

	fmt.Printf("Materialized %d gifts from %d pages into %s\n", len(state.Gifts), len(pages), cfg.Storage.SnapshotPath)
}

func runSummary(log zerolog.Logger, cfg config.Config) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	snapshot := fs.String("snapshot", cfg.Storage.SnapshotPath, "Parquet snapshot path or gs:// URI")
	fromWarehouse := fs.Bool("warehouse", false, "Read gifts from the BigQuery snapshot table instead")
	today := fs.String("today", "", "Run as of this date (YYYY-MM-DD), defaults to now")
	htmlOut := fs.String("html", "", "Write the rendered digest to this file")
	fs.Parse(os.Args[2:])

	w := window(log, cfg, *today)

	ctx, cancel := newContext(log, cfg.RunTimeout)
	defer cancel()

	gifts, err := loadGifts(ctx, cfg, *snapshot, *fromWarehouse, w)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load gifts")
	}

	client, err := pipeline.NewAPIClient(cfg.API)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create API client")
	}
	money, err := report.NewMoney(cfg.Report.Locale, cfg.Report.Currency)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid locale or currency")
	}

	r, err := report.Build(ctx, gifts, w, skyapi.NewResolver(client, cfg.API.BaseURL), money)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build report")
	}

	if *htmlOut != "" {
		html, err := render.Digest(r)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to render digest")
		}
		if err := os.WriteFile(*htmlOut, []byte(html), 0o644); err != nil {
			log.Fatal().Err(err).Msg("Failed to write digest")
		}
		fmt.Printf("Digest written to %s\n", *htmlOut)
		return
	}

	fmt.Printf("Financial year %s (as of %s), %d gifts\n", w.Label(), w.Today, len(gifts))
	fmt.Printf("  YTD current: %s\n", r.YTDCurrentFormatted)
	fmt.Printf("  YTD prior:   %s\n", r.YTDPriorFormatted)
	fmt.Println("\nMonth-wise:")
	for _, m := range r.Monthly {
		fmt.Printf("  %-16s %s\n", m.Label, m.Formatted)
	}
	fmt.Println("\nLast 7 days:")
	if len(r.Weekly) == 0 {
		fmt.Println("  (none)")
	}
	for _, row := range r.Weekly {
		name := row.DonorName
		if name == "" {
			name = row.CompanyName
		}
		fmt.Printf("  %s  %-14s %-30s %s\n", row.DateOfCredit(), row.Formatted, name, row.Campaign)
	}
}

func loadGifts(ctx context.Context, cfg config.Config, snapshot string, fromWarehouse bool, w fiscal.Window) ([]domain.Gift, error) {
	if fromWarehouse {
		if !cfg.Warehouse.Enabled() {
			return nil, errors.New("BQ_PROJECT and BQ_DATASET must be set to read from the warehouse")
		}
		t := warehouse.Table{
			ProjectID: cfg.Warehouse.ProjectID,
			DatasetID: cfg.Warehouse.DatasetID,
			TableID:   cfg.Warehouse.TableID,
		}
		repo, err := warehouse.NewBigQueryGiftRepository(ctx, t)
		if err != nil {
			return nil, err
		}
		return warehouseGifts(ctx, repo, w)
	}
	if strings.HasPrefix(snapshot, "gs://") {
		data, err := archive.Fetch(ctx, snapshot)
		if err != nil {
			return nil, err
		}
		return dataset.DecodeParquet(ctx, data)
	}
	return dataset.LoadParquet(ctx, snapshot)
}

// warehouseGifts reads the financial year's gifts back through repo and
// closes it.
func warehouseGifts(ctx context.Context, repo warehouse.GiftRepository, w fiscal.Window) ([]domain.Gift, error) {
	defer repo.Close()
	gifts, err := repo.ListGiftsSince(ctx, w.Start)
	if err != nil {
		return nil, fmt.Errorf("warehouseGifts: %w", err)
	}
	return gifts, nil
}

func runInspect(log zerolog.Logger, cfg config.Config) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	cache := pagecache.New(cfg.Storage.CacheDir, cfg.Storage.PagePrefix)
	pages, err := cache.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list cached pages")
	}
	if len(pages) == 0 {
		fmt.Println("Page cache is empty.")
		return
	}

	fmt.Printf("%d cached pages in %s\n\n", len(pages), cfg.Storage.CacheDir)
	for _, pf := range pages {
		doc, err := pagecache.ReadPage(pf.Path)
		if err != nil {
			log.Fatal().Err(err).Str("file", pf.Path).Msg("Failed to read page")
		}
		ds, err := dataset.FromDocuments([]interface{}{doc})
		if err != nil {
			log.Fatal().Err(err).Str("file", pf.Path).Msg("Failed to read records")
		}
		next := pf.NextLink
		if next == "" {
			next = "(last page)"
		}
		fmt.Printf("  #%-4d %-40s %5d records  next: %s\n", pf.Seq, filepath.Base(pf.Path), len(ds.Rows), next)
	}
}

func runHousekeep(log zerolog.Logger, cfg config.Config) {
	fs := flag.NewFlagSet("housekeep", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	removed, err := pagecache.New(cfg.Storage.CacheDir, cfg.Storage.PagePrefix).Housekeep()
	if err != nil {
		log.Fatal().Err(err).Msg("Housekeeping failed")
	}
	fmt.Printf("Removed %d cached pages.\n", removed)
}

func runUpload(log zerolog.Logger, cfg config.Config) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	bucketName := fs.String("bucket", cfg.GCSBucket, "GCS bucket name")
	objectName := fs.String("object", "", "GCS object name (defaults to filename)")
	filePath := fs.String("file", cfg.Storage.SnapshotPath, "Path to local file")
	fs.Parse(os.Args[2:])

	if *bucketName == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -bucket NAME -file PATH")
	}
	if *objectName == "" {
		*objectName = filepath.Base(*filePath)
	}

	ctx, cancel := newContext(log, 5*time.Minute)
	defer cancel()

	log.Info().
		Str("bucket", *bucketName).
		Str("object", *objectName).
		Str("file", *filePath).
		Msg("Uploading file to GCS")

	if err := archive.UploadFile(ctx, *bucketName, *objectName, *filePath); err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to %s\n", *filePath, archive.URI(*bucketName, *objectName))
}

// window resolves the financial year for an optional YYYY-MM-DD override.
func window(log zerolog.Logger, cfg config.Config, today string) fiscal.Window {
	if today != "" {
		d, err := civil.ParseDate(today)
		if err != nil {
			log.Fatal().Err(err).Str("today", today).Msg("Invalid -today date")
		}
		return fiscal.WindowFor(d)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid TIMEZONE")
	}
	return fiscal.WindowAt(time.Now(), loc)
}
