// Package errors provides structured error handling with machine-readable codes.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// OAuth errors
	CodeOAuthStateInvalid   Code = "OAUTH_STATE_INVALID"
	CodeOAuthStateExpired   Code = "OAUTH_STATE_EXPIRED"
	CodeTokenExchangeFailed Code = "TOKEN_EXCHANGE_FAILED"
	CodeReauthRequired      Code = "REAUTHORIZATION_REQUIRED"

	// Token store errors
	CodeTokenDecryptionFailed Code = "TOKEN_DECRYPTION_FAILED"
	CodeNotFound              Code = "NOT_FOUND"

	// Calendar errors
	CodeRangeInvalid         Code = "RANGE_INVALID"
	CodeCalendarAPIError     Code = "CALENDAR_API_ERROR"
	CodeCalendarScopeMissing Code = "CALENDAR_SCOPE_MISSING"

	// Conversation errors
	CodeLLMCallFailed Code = "LLM_CALL_FAILED"
	CodeSessionBusy   Code = "SESSION_BUSY"

	// Request errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
)
