package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("fetched page")

	if !strings.Contains(buf.String(), "fetched page") {
		t.Errorf("Expected output to contain 'fetched page', got: %s", buf.String())
	}
}

func TestNewRunLogger_CapturesPlainText(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewRunLogger("debug", buf)

	log.Info().Int("pages", 3).Msg("pagination finished")

	output := buf.String()
	if !strings.Contains(output, "pagination finished") {
		t.Errorf("Expected captured log to contain message, got: %s", output)
	}
	if !strings.Contains(output, "pages=3") {
		t.Errorf("Expected captured log to contain pages field, got: %s", output)
	}
	if strings.Contains(output, "\x1b[") {
		t.Errorf("Expected captured log without colour codes, got: %q", output)
	}
}

func TestNewRunLogger_RespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewRunLogger("warn", buf)

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("Expected info event to be filtered, got: %s", output)
	}
	if !strings.Contains(output, "shown") {
		t.Errorf("Expected warn event to be logged, got: %s", output)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	retrieved := FromContext(ctx)
	retrieved.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())

	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"run_id":         "abc",
		"financial_year": 2024,
	})
	log.Info().Msg("run started")

	output := buf.String()
	if !strings.Contains(output, `"run_id":"abc"`) {
		t.Errorf("Expected output to contain run_id field, got: %s", output)
	}
	if !strings.Contains(output, `"financial_year":2024`) {
		t.Errorf("Expected output to contain financial_year field, got: %s", output)
	}
}
