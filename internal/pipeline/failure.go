package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/notify"
	"github.com/dvloznov/donation-tracker/internal/render"
)

const (
	// FailureSubject is the subject of failure notifications.
	FailureSubject = "Error while getting YTD Donation from Raisers Edge"

	// LogAttachmentName is the file name of the attached run log.
	LogAttachmentName = "Process.log"
)

// Failure is a failed run about to be reported.
type Failure struct {
	JobName  string
	RunID    string
	FailedAt time.Time
	Err      error
	Log      []byte
}

// SendFailure mails a failure notification with the run log attached to
// the error recipients.
func SendFailure(ctx context.Context, mailer notify.Mailer, mail config.MailConfig, f Failure) error {
	if len(mail.ErrorTo) == 0 {
		return errors.New("SendFailure: no error recipients configured")
	}

	html, err := render.FailureNotice(render.Failure{
		JobName:  f.JobName,
		RunID:    f.RunID,
		FailedAt: f.FailedAt,
		Err:      f.Err,
	})
	if err != nil {
		return fmt.Errorf("SendFailure: %w", err)
	}

	msg := notify.Message{
		Subject: FailureSubject,
		From:    mail.From,
		To:      mail.ErrorTo,
		ReplyTo: []string{mail.From},
		HTML:    html,
	}
	if len(f.Log) > 0 {
		msg.Attachments = append(msg.Attachments, notify.Attachment{
			Filename:    LogAttachmentName,
			ContentType: "text/plain; charset=utf-8",
			Data:        f.Log,
		})
	}

	if err := mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("SendFailure: %w", err)
	}
	return nil
}
