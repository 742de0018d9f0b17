package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodePlanInvalid, "test error message")

	if err.Code != ErrCodePlanInvalid {
		t.Errorf("expected code %s, got %s", ErrCodePlanInvalid, err.Code)
	}

	if err.Message != "test error message" {
		t.Errorf("expected message 'test error message', got '%s'", err.Message)
	}

	if err.Cause != nil {
		t.Errorf("expected nil cause, got %v", err.Cause)
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(ErrCodeFileReadFailed, "failed to read file", cause)

	if err.Cause != cause {
		t.Errorf("expected cause to be set")
	}

	if !errors.Is(err, cause) {
		t.Errorf("Wrap should support errors.Is")
	}
}

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name     string
		err      *FlagsyncError
		wantCode string
		wantMsg  string
	}{
		{
			name:     "simple error",
			err:      New(ErrCodeScanBadPattern, "bad glob"),
			wantCode: "SCAN-002",
			wantMsg:  "bad glob",
		},
		{
			name:     "error with cause",
			err:      Wrap(ErrCodeFileReadFailed, "read failed", fmt.Errorf("permission denied")),
			wantCode: "IO-002",
			wantMsg:  "permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()

			if !strings.Contains(errStr, tt.wantCode) {
				t.Errorf("error string should contain code %s, got: %s", tt.wantCode, errStr)
			}

			if !strings.Contains(errStr, tt.wantMsg) {
				t.Errorf("error string should contain message '%s', got: %s", tt.wantMsg, errStr)
			}
		})
	}
}

func TestWithSuggestions(t *testing.T) {
	err := New(ErrCodeConfigInvalid, "bad config").
		WithSuggestion("first").
		WithSuggestions("second", "third")

	if len(err.Suggestions) != 3 {
		t.Fatalf("expected 3 suggestions, got %d", len(err.Suggestions))
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "Suggestions:") {
		t.Errorf("error string should contain suggestions section")
	}
	for _, s := range err.Suggestions {
		if !strings.Contains(errStr, s) {
			t.Errorf("error string should contain suggestion %q", s)
		}
	}
}

func TestWithDocs(t *testing.T) {
	err := New(ErrCodePlanInvalid, "invalid").WithDocs("https://example.com/docs")

	if !strings.Contains(err.Error(), "Documentation: https://example.com/docs") {
		t.Errorf("error string should contain docs link, got: %s", err.Error())
	}
}

func TestCodeOf(t *testing.T) {
	inner := NewRemoteUnavailableError("list_flags", fmt.Errorf("dial tcp: refused"))
	wrapped := fmt.Errorf("analyze: %w", inner)

	if got := CodeOf(wrapped); got != ErrCodeRemoteUnavailable {
		t.Errorf("CodeOf() = %q, want %q", got, ErrCodeRemoteUnavailable)
	}
	if !HasCode(wrapped, ErrCodeRemoteUnavailable) {
		t.Error("HasCode() should find wrapped code")
	}
	if got := CodeOf(fmt.Errorf("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestCommonConstructors(t *testing.T) {
	tests := []struct {
		name string
		err  *FlagsyncError
		code ErrorCode
	}{
		{"unknown language", NewUnknownLanguageError("cobol", []string{"go", "python"}), ErrCodeExtractUnknownLanguage},
		{"empty key", NewEmptyFlagKeyError(), ErrCodeExtractEmptyKey},
		{"bad pattern", NewBadPatternError("[", fmt.Errorf("syntax")), ErrCodeScanBadPattern},
		{"plan invalid", NewPlanInvalidError("p1", []string{"too many"}), ErrCodePlanInvalid},
		{"drift", NewDriftDetectedError(3), ErrCodeAnalyzeDriftDetected},
		{"remote auth", NewRemoteAuthError(fmt.Errorf("401")), ErrCodeRemoteAuth},
		{"config", NewConfigInvalidError("plan.risk_tolerance", "must be low, medium or high"), ErrCodeConfigInvalid},
		{"not found", NewFileNotFoundError("plan.json"), ErrCodeFileNotFound},
		{"unmarshal", NewFileUnmarshalError("plan.json", "JSON", fmt.Errorf("eof")), ErrCodeFileUnmarshal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("code = %s, want %s", tt.err.Code, tt.code)
			}
			if len(tt.err.Suggestions) == 0 {
				t.Error("expected at least one suggestion")
			}
		})
	}
}
