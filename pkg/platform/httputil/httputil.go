// Package httputil centralizes JSON response and domain-error translation
// for the HTTP transport.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "ballotcore/pkg/domain-errors"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error to its HTTP status and JSON envelope.
// Internal errors carry no description; infrastructure details stay in logs.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := map[string]string{"error": string(code)}
	if code != dErrors.CodeInternal {
		if desc := dErrors.MessageOf(err); desc != "" {
			body["error_description"] = desc
		}
	}
	WriteJSON(w, StatusFor(code), body)
}

// StatusFor returns the HTTP status for a domain error code.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeDuplicateToken, dErrors.CodeDuplicateVote:
		return http.StatusConflict
	case dErrors.CodeElectionNotActive, dErrors.CodeTokenExpired, dErrors.CodeTokenAlreadyUsed:
		return http.StatusConflict
	case dErrors.CodeInvalidSignature, dErrors.CodeInvalidVoteSignature, dErrors.CodeTokenValidationFailed:
		return http.StatusUnprocessableEntity
	case dErrors.CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case dErrors.CodeUnavailable, dErrors.CodeKeyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
