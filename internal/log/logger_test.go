package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/felixgeelhaar/flagsync/internal/errors"
)

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  LevelWarn,
		Format: FormatJSON,
		Output: NewOutput(&buf),
	})

	logger.Debug("debug message")
	logger.Info("info message")

	if buf.Len() > 0 {
		t.Errorf("expected no output for debug/info at warn level, got: %s", buf.String())
	}

	logger.Warn("warn message")
	if buf.Len() == 0 {
		t.Error("expected output for warn message")
	}
}

func TestJSONFormatOutput(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Output = NewOutput(&buf)
	logger := New(cfg)

	logger.Info("scan complete", "files", 42)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v\nOutput: %s", err, buf.String())
	}

	if entry["msg"] != "scan complete" {
		t.Errorf("expected msg 'scan complete', got %v", entry["msg"])
	}
	if entry["service"] != "flagsync" {
		t.Errorf("expected service 'flagsync', got %v", entry["service"])
	}
	if entry["files"] != float64(42) {
		t.Errorf("expected files 42, got %v", entry["files"])
	}
}

func TestTextFormatOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  LevelInfo,
		Format: FormatText,
		Output: NewOutput(&buf),
	})

	logger.WithComponent("scanner").Info("directory skipped", "path", "vendor")

	output := buf.String()
	for _, want := range []string{"directory skipped", "component=scanner", "path=vendor", "INFO"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got: %s", want, output)
		}
	}
}

func TestWithErrorExpandsCodedErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: FormatJSON, Output: NewOutput(&buf)})

	err := errors.NewRemoteUnavailableError("list_flags", fmt.Errorf("connection refused"))
	logger.WithError(fmt.Errorf("analyze: %w", err)).Error("analysis aborted")

	var entry map[string]interface{}
	if jsonErr := json.Unmarshal(buf.Bytes(), &entry); jsonErr != nil {
		t.Fatalf("failed to parse JSON output: %v", jsonErr)
	}
	if entry["error_code"] != "REMOTE-001" {
		t.Errorf("expected error_code REMOTE-001, got %v", entry["error_code"])
	}
	if entry["cause"] != "connection refused" {
		t.Errorf("expected cause, got %v", entry["cause"])
	}
}

func TestWithErrorPlain(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: FormatText, Output: NewOutput(&buf)})

	logger.WithError(fmt.Errorf("boom")).Warn("something failed")
	if !strings.Contains(buf.String(), "error=boom") {
		t.Errorf("expected plain error attribute, got: %s", buf.String())
	}

	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestSecretsRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: FormatText, Output: NewOutput(&buf)})

	logger.Info("remote configured", "token", "s3cret", "Authorization", "Bearer abc", "project_id", "42")

	out := buf.String()
	if strings.Contains(out, "s3cret") || strings.Contains(out, "Bearer abc") {
		t.Errorf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "project_id=42") {
		t.Errorf("expected non-secret attribute, got: %s", out)
	}
}

func TestWithOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Format: FormatJSON, Output: NewOutput(&buf)})

	logger.WithOperation("plan-1", "op-002", "new_checkout").Info("operation applied")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	for k, want := range map[string]string{"plan_id": "plan-1", "operation_id": "op-002", "flag": "new_checkout"} {
		if entry[k] != want {
			t.Errorf("%s = %v, want %s", k, entry[k], want)
		}
	}
}

func TestParseLevelAndFormat(t *testing.T) {
	levels := map[string]Level{
		"debug": LevelDebug, "INFO": LevelInfo, "warning": LevelWarn, "error": LevelError, "bogus": LevelInfo,
	}
	for in, want := range levels {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	if ParseFormat("text") != FormatText || ParseFormat("json") != FormatJSON || ParseFormat("") != FormatJSON {
		t.Error("ParseFormat returned unexpected values")
	}
}

func TestDefaultLogger(t *testing.T) {
	custom := New(DevelopmentConfig())
	SetDefaultLogger(custom)
	t.Cleanup(func() { SetDefaultLogger(Default()) })

	if DefaultLogger() != custom {
		t.Error("DefaultLogger should return the logger set via SetDefaultLogger")
	}
	if OrDefault(nil) != custom {
		t.Error("OrDefault(nil) should fall back to the default logger")
	}
}
