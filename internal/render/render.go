// Package render turns a digest report and run failures into HTML emails.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/dvloznov/donation-tracker/internal/report"
)

// FailedOnFormat is how failure notifications show the failure time.
const FailedOnFormat = "02/01/2006 15:04:05"

var (
	digestTmpl  = template.Must(template.New("digest").Parse(digestTemplate))
	failureTmpl = template.Must(template.New("failure").Parse(failureTemplate))
)

// Failure describes a failed run.
type Failure struct {
	JobName  string
	RunID    string
	FailedAt time.Time
	Err      error
}

// Digest renders the weekly donation summary.
func Digest(r *report.Report) (string, error) {
	data := struct {
		Style     template.CSS
		AsOf      string
		StartDate string
		Report    *report.Report
	}{
		Style:     template.CSS(tableStyle),
		AsOf:      r.Window.Today.In(time.UTC).Format("02 January 2006"),
		StartDate: r.Window.Start.In(time.UTC).Format("02 January 2006"),
		Report:    r,
	}

	var buf bytes.Buffer
	if err := digestTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("Digest: executing template: %w", err)
	}
	return buf.String(), nil
}

// FailureNotice renders the notification sent when a run fails.
func FailureNotice(f Failure) (string, error) {
	msg := "unknown error"
	if f.Err != nil {
		msg = f.Err.Error()
	}
	data := struct {
		JobName  string
		RunID    string
		FailedOn string
		Error    string
	}{
		JobName:  f.JobName,
		RunID:    f.RunID,
		FailedOn: f.FailedAt.Format(FailedOnFormat),
		Error:    msg,
	}

	var buf bytes.Buffer
	if err := failureTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("FailureNotice: executing template: %w", err)
	}
	return buf.String(), nil
}
