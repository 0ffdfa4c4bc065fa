package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/donation-tracker/internal/archive"
	"github.com/dvloznov/donation-tracker/internal/dataset"
	"github.com/dvloznov/donation-tracker/internal/fiscal"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/notify"
	"github.com/dvloznov/donation-tracker/internal/pagecache"
	"github.com/dvloznov/donation-tracker/internal/render"
	"github.com/dvloznov/donation-tracker/internal/report"
	"github.com/dvloznov/donation-tracker/internal/skyapi"
	"github.com/dvloznov/donation-tracker/internal/warehouse"
)

// HousekeepStep deletes cached page files left by earlier runs.
type HousekeepStep struct {
	Cache *pagecache.Cache
}

func (s *HousekeepStep) Execute(ctx context.Context, state *PipelineState) error {
	removed, err := s.Cache.Housekeep()
	if err != nil {
		return fmt.Errorf("HousekeepStep: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Int("removed", removed).Msg("Page cache cleared")
	return nil
}

// FetchPagesStep walks the gift list and caches every page.
type FetchPagesStep struct {
	Cache          *pagecache.Cache
	API            pagecache.Fetcher
	BaseURL        string
	GiftTypes      []string
	LookbackMonths int
}

func (s *FetchPagesStep) Execute(ctx context.Context, state *PipelineState) error {
	from := FetchFrom(state.Window, s.LookbackMonths)
	params := skyapi.GiftListParams(s.GiftTypes, from)

	pages, err := s.Cache.Paginate(ctx, s.API, skyapi.GiftListURL(s.BaseURL), params)
	state.Pages = pages
	if err != nil {
		return fmt.Errorf("FetchPagesStep: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Int("pages", len(pages)).
		Str("from", from.String()).
		Msg("Gift list fetched")
	return nil
}

// FetchFrom is the earliest gift date requested for a window: the start
// of the financial year moved back by lookbackMonths, so gifts dated
// before the year but receipted in it are still fetched.
func FetchFrom(w fiscal.Window, lookbackMonths int) civil.Date {
	return civil.DateOf(w.Start.In(time.UTC).AddDate(0, -lookbackMonths, 0))
}

// MaterializeStep flattens the cached pages and saves the raw snapshot.
type MaterializeStep struct {
	RawSnapshotPath string
}

func (s *MaterializeStep) Execute(ctx context.Context, state *PipelineState) error {
	ds, err := dataset.Materialize(state.Pages)
	if err != nil {
		return fmt.Errorf("MaterializeStep: %w", err)
	}
	if s.RawSnapshotPath != "" {
		if err := dataset.SaveRaw(s.RawSnapshotPath, ds); err != nil {
			return fmt.Errorf("MaterializeStep: %w", err)
		}
	}
	state.Dataset = ds

	log := logger.FromContext(ctx)
	log.Info().
		Int("rows", len(ds.Rows)).
		Int("columns", len(ds.Columns)).
		Msg("Dataset materialized")
	return nil
}

// NormalizeStep types the dataset into gifts.
type NormalizeStep struct{}

func (s *NormalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Dataset == nil {
		return errors.New("NormalizeStep: no dataset")
	}
	gifts, err := dataset.Normalize(state.Dataset)
	if err != nil {
		return fmt.Errorf("NormalizeStep: %w", err)
	}
	state.Gifts = gifts
	log := logger.FromContext(ctx)
	log.Info().Int("gifts", len(gifts)).Msg("Gifts normalized")
	return nil
}

// SaveSnapshotStep writes the parquet snapshot, replacing the previous one.
type SaveSnapshotStep struct {
	Path string
}

func (s *SaveSnapshotStep) Execute(ctx context.Context, state *PipelineState) error {
	n, err := dataset.SaveParquet(s.Path, state.Gifts)
	if err != nil {
		return fmt.Errorf("SaveSnapshotStep: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Str("path", s.Path).Int("bytes", n).Msg("Snapshot saved")
	return nil
}

// WarehouseStep replaces the BigQuery snapshot table.
type WarehouseStep struct {
	Repo warehouse.GiftRepository
}

func (s *WarehouseStep) Execute(ctx context.Context, state *PipelineState) error {
	if err := s.Repo.ReplaceSnapshot(ctx, state.RunID, state.Gifts); err != nil {
		return fmt.Errorf("WarehouseStep: %w", err)
	}
	return nil
}

// ArchiveStep copies run files to Cloud Storage.
type ArchiveStep struct {
	Store  archive.Store
	Bucket string
	Files  []string
}

func (s *ArchiveStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	for _, f := range s.Files {
		object := archive.ObjectName(state.Window.Label(), state.RunID, f)
		if err := s.Store.UploadFile(ctx, s.Bucket, object, f); err != nil {
			return fmt.Errorf("ArchiveStep: %w", err)
		}
		uri := archive.URI(s.Bucket, object)
		state.Archived = append(state.Archived, uri)
		log.Info().Str("uri", uri).Msg("File archived")
	}
	return nil
}

// BuildReportStep aggregates the gifts and labels the weekly rows.
type BuildReportStep struct {
	Lookup report.Lookup
	Money  *report.Money
}

func (s *BuildReportStep) Execute(ctx context.Context, state *PipelineState) error {
	r, err := report.Build(ctx, state.Gifts, state.Window, s.Lookup, s.Money)
	if err != nil {
		return fmt.Errorf("BuildReportStep: %w", err)
	}
	state.Report = r

	log := logger.FromContext(ctx)
	log.Info().
		Str("financial_year", state.Window.Label()).
		Str("ytd_current", r.YTDCurrentFormatted).
		Str("ytd_prior", r.YTDPriorFormatted).
		Int("months", len(r.Monthly)).
		Int("weekly", len(r.Weekly)).
		Msg("Report built")
	return nil
}

// RenderStep renders the digest HTML.
type RenderStep struct{}

func (s *RenderStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Report == nil {
		return errors.New("RenderStep: no report")
	}
	html, err := render.Digest(state.Report)
	if err != nil {
		return fmt.Errorf("RenderStep: %w", err)
	}
	state.HTML = html
	return nil
}

// SendReportStep mails the rendered digest.
type SendReportStep struct {
	Mailer  notify.Mailer
	Subject string
	From    string
	To      []string
	Cc      []string
}

func (s *SendReportStep) Execute(ctx context.Context, state *PipelineState) error {
	msg := notify.Message{
		Subject: s.Subject,
		From:    s.From,
		To:      s.To,
		Cc:      s.Cc,
		ReplyTo: []string{s.From},
		HTML:    state.HTML,
	}
	if err := s.Mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("SendReportStep: %w", err)
	}
	return nil
}
