package errors

import "net/http"

// HTTPStatus maps a domain error code to an HTTP response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeOAuthStateInvalid, CodeRangeInvalid, CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeOAuthStateExpired:
		return http.StatusGone
	case CodeReauthRequired, CodeTokenDecryptionFailed:
		return http.StatusUnauthorized
	case CodeCalendarScopeMissing:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeSessionBusy:
		return http.StatusConflict
	case CodeTokenExchangeFailed, CodeCalendarAPIError, CodeLLMCallFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
