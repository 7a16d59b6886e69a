package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"cliproxy/internal/domain"
)

// statusClientClosedRequest is reported when the caller went away.
const statusClientClosedRequest = 499

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	code, ok := domain.CodeFrom(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch code {
	case domain.CodeUnknownTool, domain.CodeInvalidArgument, domain.CodeInvalidModelID, domain.CodeToolUnavailable:
		return http.StatusBadRequest
	case domain.CodeRateLimited, domain.CodeConcurrencyExceeded:
		return http.StatusTooManyRequests
	case domain.CodeShuttingDown:
		return http.StatusServiceUnavailable
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeAborted:
		return statusClientClosedRequest
	case domain.CodeProcessFailure, domain.CodeUpstreamAPIError:
		return http.StatusBadGateway
	case domain.CodeAuthError:
		return http.StatusUnauthorized
	case domain.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), domain.MessageFrom(err))
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
