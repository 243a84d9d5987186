package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDefaultLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLogger(&buf, "debug", true).With(F("engine", "e1"))

	logger.Warn("job failed", F("task_id", 7), F("error", errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "job failed" || rec["level"] != "WARN" {
		t.Errorf("record = %v, want msg and WARN level", rec)
	}
	if rec["engine"] != "e1" || rec["error"] != "boom" || rec["task_id"] != float64(7) {
		t.Errorf("record fields = %v", rec)
	}
}

func TestDefaultLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLogger(&buf, "warn", false)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Error("shown", F("k", "v"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("output contains filtered records: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "k=v") {
		t.Errorf("output = %q, want the error record with k=v", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "WARNING": "WARN", "error": "ERROR", "bogus": "INFO"}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
