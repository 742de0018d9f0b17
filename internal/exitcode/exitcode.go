package exitcode

import (
	"os"
	"strings"

	"github.com/felixgeelhaar/flagsync/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates successful execution
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage or configuration
	UsageError = 2

	// PlanInvalid indicates a cleanup plan failed validation or was refused
	PlanInvalid = 3

	// DriftDetected indicates flags and code disagree
	DriftDetected = 4

	// ConsistencyFailed indicates a consistency check failed during apply
	ConsistencyFailed = 5

	// RemoteError indicates the flag service could not be reached or did not
	// confirm a change
	RemoteError = 6

	// AuthError indicates the flag service rejected the credentials
	AuthError = 7

	// Interrupted indicates the run was cancelled by SIGINT or SIGTERM
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}

	code := DetermineExitCode(err)
	Exit(code)
}

// DetermineExitCode maps an error to an exit code. Coded errors are mapped
// by code; anything else falls back to message heuristics.
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	if code := errors.CodeOf(err); code != "" {
		return fromCode(code)
	}

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "drift detected") {
		return DriftDetected
	}

	if strings.Contains(errMsg, "unauthorized") || strings.Contains(errMsg, "forbidden") ||
		strings.Contains(errMsg, "http 401") || strings.Contains(errMsg, "http 403") {
		return AuthError
	}

	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "service unavailable") || strings.Contains(errMsg, "timeout") {
		return RemoteError
	}

	if strings.Contains(errMsg, "unknown command") || strings.Contains(errMsg, "unknown flag") ||
		strings.Contains(errMsg, "required flag") || strings.Contains(errMsg, "invalid argument") ||
		strings.Contains(errMsg, "accepts ") {
		return UsageError
	}

	return GeneralError
}

func fromCode(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeAnalyzeDriftDetected:
		return DriftDetected
	case errors.ErrCodePlanInvalid, errors.ErrCodePlanOptions, errors.ErrCodePlanRejected, errors.ErrCodePlanNotFound:
		return PlanInvalid
	case errors.ErrCodeConsistencyFailed, errors.ErrCodeRollbackAdvised:
		return ConsistencyFailed
	case errors.ErrCodeRemoteAuth:
		return AuthError
	case errors.ErrCodeRemoteUnavailable, errors.ErrCodeRemoteRequest, errors.ErrCodeRemoteUnconfirmed:
		return RemoteError
	case errors.ErrCodeConfigInvalid, errors.ErrCodeConfigRead,
		errors.ErrCodeExtractUnknownLanguage, errors.ErrCodeScanBadPattern, errors.ErrCodeScanRootMissing:
		return UsageError
	}
	return GeneralError
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags, arguments or configuration)"
	case PlanInvalid:
		return "Cleanup plan invalid or refused"
	case DriftDetected:
		return "Flag drift detected"
	case ConsistencyFailed:
		return "Consistency check failed"
	case RemoteError:
		return "Flag service error"
	case AuthError:
		return "Authentication error"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
