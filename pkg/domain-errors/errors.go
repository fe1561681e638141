// Package domainerrors provides coded errors for the election-integrity core.
//
// Services return these so transport layers can map failures to responses
// without string matching, and so callers can branch on the exact
// precondition that failed (expired vs. already used vs. duplicate) without
// learning anything about other voters.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of domain failure.
type Code string

const (
	// Ambient codes.
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeNotFound     Code = "not_found"
	CodeForbidden    Code = "forbidden"
	CodeUnauthorized Code = "unauthorized"
	CodeConflict     Code = "conflict"
	CodeUnavailable  Code = "unavailable"
	CodeInternal     Code = "internal_error"

	// Token failures.
	CodeDuplicateToken    Code = "duplicate_token"
	CodeElectionNotActive Code = "election_not_active"
	CodeInvalidSignature  Code = "invalid_signature"
	CodeTokenExpired      Code = "token_expired"
	CodeTokenAlreadyUsed  Code = "token_already_used"

	// Vote failures.
	CodeInvalidVoteSignature   Code = "invalid_vote_signature"
	CodeDuplicateVote          Code = "duplicate_vote"
	CodeTokenValidationFailed  Code = "token_validation_failed"

	// Signing failures.
	CodeKeyUnavailable  Code = "key_unavailable"
	CodePayloadTooLarge Code = "payload_too_large"
)

// Error is a domain error carrying a machine-readable code alongside a
// human-readable message. The wrapped cause, if any, is preserved for
// logging but never surfaced to callers.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs a domain error that preserves an underlying cause.
func Wrap(cause error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// HasCode reports whether err is (or wraps) a domain error with the code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// non-domain errors so infrastructure details never leak outward.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the caller-safe message from err. Non-domain errors
// yield an empty message.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
