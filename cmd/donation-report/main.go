package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/donation-tracker/internal/archive"
	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/notify"
	"github.com/dvloznov/donation-tracker/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}
	if err := cfg.ValidateRun(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}
	loc, err := cfg.Location()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	// Everything logged during the run is attached to a failure email.
	var runLog bytes.Buffer
	state := pipeline.NewState(time.Now(), loc)
	log := logger.WithFields(logger.NewRunLogger(cfg.LogLevel, &runLog), map[string]interface{}{
		"run_id": state.RunID,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Str("financial_year", state.Window.Label()).
		Str("today", state.Window.Today.String()).
		Msg("Starting donation digest")

	mailer := notify.NewSMTPMailer(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.Username, cfg.Mail.Password)
	if cfg.Mail.ArchiveSent() {
		sent := notify.NewIMAPArchiver(cfg.Mail.IMAPHost, cfg.Mail.IMAPPort, cfg.Mail.Username, cfg.Mail.Password)
		sent.Mailbox = cfg.Mail.SentFolder
		mailer.Archive = sent
	}

	runErr := execute(ctx, cfg, mailer, state)
	if runErr == nil {
		log.Info().Strs("archived", state.Archived).Msg("Donation digest sent")
		archiveLog(ctx, log, cfg, state, runLog.Bytes())
		return 0
	}

	log.Error().Err(runErr).Msg("Donation digest failed")
	archiveLog(ctx, log, cfg, state, runLog.Bytes())

	notifyCtx, cancelNotify := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancelNotify()
	failure := pipeline.Failure{
		JobName:  cfg.Report.JobName,
		RunID:    state.RunID,
		FailedAt: time.Now().In(loc),
		Err:      runErr,
		Log:      runLog.Bytes(),
	}
	if err := pipeline.SendFailure(notifyCtx, mailer, cfg.Mail, failure); err != nil {
		log.Error().Err(err).Msg("Failed to send failure notification")
	}
	return 1
}

func execute(ctx context.Context, cfg config.Config, mailer notify.Mailer, state *pipeline.PipelineState) error {
	deps, closeDeps, err := pipeline.Wire(ctx, cfg, mailer)
	defer closeDeps()
	if err != nil {
		return err
	}
	return pipeline.NewDigestPipeline(deps).Execute(ctx, state)
}

// archiveLog copies the run log next to the archived snapshot. Failures
// are logged only.
func archiveLog(ctx context.Context, log zerolog.Logger, cfg config.Config, state *pipeline.PipelineState, data []byte) {
	if cfg.GCSBucket == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()

	object := archive.ObjectName(state.Window.Label(), state.RunID, pipeline.LogAttachmentName)
	if err := archive.UploadBytes(ctx, cfg.GCSBucket, object, "text/plain; charset=utf-8", data); err != nil {
		log.Warn().Err(err).Msg("Failed to archive run log")
		return
	}
	log.Info().Str("uri", archive.URI(cfg.GCSBucket, object)).Msg("Run log archived")
}
