package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestParseFormat(t *testing.T) {
	testCases := []struct {
		input    string
		expected log.Formatter
		wantErr  bool
	}{
		{"", log.TextFormatter, false},
		{"text", log.TextFormatter, false},
		{"JSON", log.JSONFormatter, false},
		{" logfmt ", log.LogfmtFormatter, false},
		{"xml", log.TextFormatter, true},
	}

	for _, tc := range testCases {
		got, err := ParseFormat(tc.input)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tc.input, err, tc.wantErr)
		}
		if got != tc.expected {
			t.Errorf("ParseFormat(%q) = %v, expected %v", tc.input, got, tc.expected)
		}
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "train", log.InfoLevel, false, false, log.LogfmtFormatter)
	l.Debug("hidden")
	l.Info("shown", "sentences", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "sentences=3") || !strings.Contains(out, "prefix=train") {
		t.Errorf("unexpected log output: %q", out)
	}
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	if err := Setup(Options{Format: "yaml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}
