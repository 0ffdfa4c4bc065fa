package pipeline

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dvloznov/donation-tracker/internal/archive"
	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/notify"
	"github.com/dvloznov/donation-tracker/internal/report"
	"github.com/dvloznov/donation-tracker/internal/skyapi"
	"github.com/dvloznov/donation-tracker/internal/warehouse"
)

// NewAPIClient creates the SKY API client described by cfg.
func NewAPIClient(cfg config.APIConfig) (*skyapi.Client, error) {
	tokens, err := skyapi.StaticTokenSource(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("NewAPIClient: %w", err)
	}
	return skyapi.NewClient(tokens, cfg.SubscriptionKey, skyapi.Options{
		HTTPClient:      &http.Client{Timeout: cfg.Timeout},
		RequestInterval: cfg.RequestInterval,
		RetryBackoff:    cfg.RetryBackoff,
		MaxRetries:      cfg.MaxRetries,
	}), nil
}

// Wire builds the production collaborators for cfg. The returned close
// function releases the warehouse client and is safe to call on error.
func Wire(ctx context.Context, cfg config.Config, mailer notify.Mailer) (Deps, func(), error) {
	noop := func() {}

	client, err := NewAPIClient(cfg.API)
	if err != nil {
		return Deps{}, noop, fmt.Errorf("Wire: %w", err)
	}
	money, err := report.NewMoney(cfg.Report.Locale, cfg.Report.Currency)
	if err != nil {
		return Deps{}, noop, fmt.Errorf("Wire: %w", err)
	}

	d := Deps{
		Config: cfg,
		API:    client,
		Lookup: skyapi.NewResolver(client, cfg.API.BaseURL),
		Money:  money,
		Mailer: mailer,
	}
	if cfg.GCSBucket != "" {
		d.Archive = archive.NewGCSStore()
	}

	closer := noop
	if cfg.Warehouse.Enabled() {
		repo, err := warehouse.NewBigQueryGiftRepository(ctx, warehouse.Table{
			ProjectID: cfg.Warehouse.ProjectID,
			DatasetID: cfg.Warehouse.DatasetID,
			TableID:   cfg.Warehouse.TableID,
		})
		if err != nil {
			return Deps{}, noop, fmt.Errorf("Wire: %w", err)
		}
		d.Warehouse = repo
		closer = func() { _ = repo.Close() }
	}

	return d, closer, nil
}
