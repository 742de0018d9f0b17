package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode identifies a class of failure so CI callers can branch on it.
type ErrorCode string

const (
	// Scan errors (SCAN-001 to SCAN-099)
	ErrCodeScanRootMissing ErrorCode = "SCAN-001"
	ErrCodeScanBadPattern  ErrorCode = "SCAN-002"
	ErrCodeScanInterrupted ErrorCode = "SCAN-003"

	// Extraction errors (EXTRACT-001 to EXTRACT-099)
	ErrCodeExtractUnknownLanguage ErrorCode = "EXTRACT-001"
	ErrCodeExtractEmptyKey        ErrorCode = "EXTRACT-002"
	ErrCodeExtractBadPattern      ErrorCode = "EXTRACT-003"

	// Cache errors (CACHE-001 to CACHE-099)
	ErrCodeCacheCorrupt ErrorCode = "CACHE-001"
	ErrCodeCacheVersion ErrorCode = "CACHE-002"
	ErrCodeCacheWrite   ErrorCode = "CACHE-003"

	// Analysis errors (ANALYZE-001 to ANALYZE-099)
	ErrCodeAnalyzeDriftDetected ErrorCode = "ANALYZE-001"

	// Plan errors (PLAN-001 to PLAN-099)
	ErrCodePlanNotFound ErrorCode = "PLAN-001"
	ErrCodePlanInvalid  ErrorCode = "PLAN-002"
	ErrCodePlanOptions  ErrorCode = "PLAN-003"
	ErrCodePlanRejected ErrorCode = "PLAN-004"

	// Consistency errors (VALIDATE-001 to VALIDATE-099)
	ErrCodeConsistencyFailed ErrorCode = "VALIDATE-001"
	ErrCodeRollbackAdvised   ErrorCode = "VALIDATE-002"

	// Remote flag-service errors (REMOTE-001 to REMOTE-099)
	ErrCodeRemoteUnavailable ErrorCode = "REMOTE-001"
	ErrCodeRemoteAuth        ErrorCode = "REMOTE-002"
	ErrCodeRemoteRequest     ErrorCode = "REMOTE-003"
	ErrCodeRemoteUnconfirmed ErrorCode = "REMOTE-004"

	// Configuration errors (CONFIG-001 to CONFIG-099)
	ErrCodeConfigInvalid ErrorCode = "CONFIG-001"
	ErrCodeConfigRead    ErrorCode = "CONFIG-002"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound    ErrorCode = "IO-001"
	ErrCodeFileReadFailed  ErrorCode = "IO-002"
	ErrCodeFileWriteFailed ErrorCode = "IO-003"
	ErrCodeFileUnmarshal   ErrorCode = "IO-005"
	ErrCodeFileMarshal     ErrorCode = "IO-006"
)

// FlagsyncError is an error carrying a stable code, recovery hints and an optional cause.
type FlagsyncError struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error
}

// Error implements the error interface
func (e *FlagsyncError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)

	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			fmt.Fprintf(&b, "\n  • %s", suggestion)
		}
	}

	if e.DocsURL != "" {
		fmt.Fprintf(&b, "\n\nDocumentation: %s", e.DocsURL)
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *FlagsyncError) Unwrap() error {
	return e.Cause
}

// New creates a new FlagsyncError
func New(code ErrorCode, message string) *FlagsyncError {
	return &FlagsyncError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new FlagsyncError wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *FlagsyncError {
	return &FlagsyncError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *FlagsyncError) WithSuggestion(suggestion string) *FlagsyncError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *FlagsyncError) WithSuggestions(suggestions ...string) *FlagsyncError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *FlagsyncError) WithDocs(url string) *FlagsyncError {
	e.DocsURL = url
	return e
}

// CodeOf returns the code of the first FlagsyncError in err's chain, or "" when there is none.
func CodeOf(err error) ErrorCode {
	var fe *FlagsyncError
	if stderrors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// HasCode reports whether err's chain contains a FlagsyncError with the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// NewUnknownLanguageError reports a language name missing from the language table.
func NewUnknownLanguageError(language string, known []string) *FlagsyncError {
	return New(ErrCodeExtractUnknownLanguage, fmt.Sprintf("unknown language: %s", language)).
		WithSuggestion(fmt.Sprintf("Use one of: %s", strings.Join(known, ", "))).
		WithSuggestion("Check analysis.languages in .flagsync/config.yaml")
}

// NewEmptyFlagKeyError reports an empty flag key passed to a search.
func NewEmptyFlagKeyError() *FlagsyncError {
	return New(ErrCodeExtractEmptyKey, "flag key must not be empty").
		WithSuggestion("Filter empty keys out of the remote flag list before searching")
}

// NewBadPatternError reports a malformed include/exclude glob.
func NewBadPatternError(pattern string, cause error) *FlagsyncError {
	return Wrap(ErrCodeScanBadPattern, fmt.Sprintf("invalid glob pattern: %q", pattern), cause).
		WithSuggestion("Globs use '/' separators and support '**' for any number of directories")
}

// NewPlanInvalidError reports a plan that failed validation and must not be executed.
func NewPlanInvalidError(planID string, problems []string) *FlagsyncError {
	err := New(ErrCodePlanInvalid, fmt.Sprintf("cleanup plan %s failed validation", planID))
	for _, p := range problems {
		err.WithSuggestion(p)
	}
	return err.WithSuggestion("Run 'flagsync plan validate' after adjusting plan options")
}

// NewDriftDetectedError reports non-consistent flags when the caller asked to fail on drift.
func NewDriftDetectedError(count int) *FlagsyncError {
	return New(ErrCodeAnalyzeDriftDetected, fmt.Sprintf("drift detected: %d flag(s) out of sync", count)).
		WithSuggestion("Run 'flagsync plan create' to generate a cleanup plan")
}

// NewRemoteUnavailableError reports a flag-service failure; remote state must be treated as unknown.
func NewRemoteUnavailableError(op string, cause error) *FlagsyncError {
	return Wrap(ErrCodeRemoteUnavailable, fmt.Sprintf("flag service call %s failed", op), cause).
		WithSuggestion("Check remote.base_url and network connectivity").
		WithSuggestion("Use remote.flags_file for offline runs")
}

// NewRemoteAuthError reports a rejected token.
func NewRemoteAuthError(cause error) *FlagsyncError {
	return Wrap(ErrCodeRemoteAuth, "flag service rejected credentials", cause).
		WithSuggestion("Set the FLAGSYNC_REMOTE_TOKEN environment variable").
		WithSuggestion("Check if the token is valid and not expired")
}

// NewConfigInvalidError reports a configuration value that fails validation.
func NewConfigInvalidError(field, details string) *FlagsyncError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration %s: %s", field, details)).
		WithSuggestion("Run 'flagsync config view' to inspect the effective configuration")
}

// NewFileNotFoundError creates a file not found error
func NewFileNotFoundError(path string) *FlagsyncError {
	return New(ErrCodeFileNotFound, fmt.Sprintf("file not found: %s", path)).
		WithSuggestion("Check if the file path is correct").
		WithSuggestion("Verify the file exists and you have read permissions")
}

// NewFileUnmarshalError creates an unmarshal error
func NewFileUnmarshalError(path string, format string, cause error) *FlagsyncError {
	return Wrap(ErrCodeFileUnmarshal, fmt.Sprintf("failed to parse %s file: %s", format, path), cause).
		WithSuggestion("Check the file syntax and format").
		WithSuggestion(fmt.Sprintf("Ensure the file is valid %s", format))
}
