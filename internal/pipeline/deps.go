package pipeline

import (
	"github.com/dvloznov/donation-tracker/internal/archive"
	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/notify"
	"github.com/dvloznov/donation-tracker/internal/pagecache"
	"github.com/dvloznov/donation-tracker/internal/report"
	"github.com/dvloznov/donation-tracker/internal/warehouse"
)

// Deps are the collaborators of a digest run. Warehouse and Archive are
// optional; nil disables the matching step.
type Deps struct {
	Config    config.Config
	API       pagecache.Fetcher
	Lookup    report.Lookup
	Money     *report.Money
	Mailer    notify.Mailer
	Warehouse warehouse.GiftRepository
	Archive   archive.Store
}

// NewDigestPipeline creates the standard digest run:
// housekeeping, fetch, materialize, normalize, snapshot, aggregate,
// render and mail, with housekeeping again at the end.
func NewDigestPipeline(d Deps) *Pipeline {
	cfg := d.Config
	cache := pagecache.New(cfg.Storage.CacheDir, cfg.Storage.PagePrefix)

	steps := []PipelineStep{
		&HousekeepStep{Cache: cache},
		&FetchPagesStep{
			Cache:          cache,
			API:            d.API,
			BaseURL:        cfg.API.BaseURL,
			GiftTypes:      cfg.API.GiftTypes,
			LookbackMonths: cfg.API.LookbackMonths,
		},
		&MaterializeStep{RawSnapshotPath: cfg.Storage.RawSnapshotPath},
		&NormalizeStep{},
		&SaveSnapshotStep{Path: cfg.Storage.SnapshotPath},
	}
	if d.Warehouse != nil {
		steps = append(steps, &WarehouseStep{Repo: d.Warehouse})
	}
	if d.Archive != nil && cfg.GCSBucket != "" {
		steps = append(steps, &ArchiveStep{
			Store:  d.Archive,
			Bucket: cfg.GCSBucket,
			Files:  []string{cfg.Storage.SnapshotPath},
		})
	}
	steps = append(steps,
		&BuildReportStep{Lookup: d.Lookup, Money: d.Money},
		&RenderStep{},
		&SendReportStep{
			Mailer:  d.Mailer,
			Subject: cfg.Mail.Subject,
			From:    cfg.Mail.From,
			To:      cfg.Mail.To,
			Cc:      cfg.Mail.Cc,
		},
	)

	return NewPipeline(steps...).Finally(&HousekeepStep{Cache: cache})
}
