// Package models defines the ballot token entity: a signed, single-use,
// time-bounded credential proving one voter's eligibility for one election.
package models

import (
	"fmt"
	"time"

	"ballotcore/pkg/domain"
)

// Status is the token lifecycle state. Tokens are never deleted; they only
// move forward through these states.
type Status string

const (
	// StatusIssued means the token exists and has not been consumed.
	StatusIssued Status = "issued"
	// StatusValidated is terminal: the token was consumed by vote intake.
	StatusValidated Status = "validated"
	// StatusInvalidated is terminal: an administrator revoked the token.
	StatusInvalidated Status = "invalidated"
	// StatusExpired records that the token outlived its window unused.
	StatusExpired Status = "expired"
)

// MaxLifetime bounds token validity independent of the election window.
const MaxLifetime = 24 * time.Hour

// BallotToken proves eligibility without revealing vote content. At most
// one non-invalidated token exists per (voter, election) pair.
type BallotToken struct {
	ID         domain.TokenID
	VoterID    domain.VoterID
	ElectionID domain.ElectionID
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Signature  []byte
	Status     Status
}

// ComputeExpiry returns the token expiry: whichever comes first of the
// election end and issuance plus MaxLifetime.
func ComputeExpiry(issuedAt, electionEnds time.Time) time.Time {
	capped := issuedAt.Add(MaxLifetime)
	if electionEnds.Before(capped) {
		return electionEnds
	}
	return capped
}

// SigningPayload is the canonical byte string covered by the token
// signature: identifier, voter, election, issuance, expiry, in fixed order.
func (t *BallotToken) SigningPayload() []byte {
	return fmt.Appendf(nil, "%s|%s|%s|%s|%s",
		t.ID, t.VoterID, t.ElectionID,
		t.IssuedAt.UTC().Format(time.RFC3339Nano),
		t.ExpiresAt.UTC().Format(time.RFC3339Nano))
}

// ExpiredAt reports whether the token is past its expiry at instant now.
func (t *BallotToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ValidationResult is returned by token validation. The token is not yet
// consumed at this point; consumption happens atomically with vote intake.
type ValidationResult struct {
	TokenID    domain.TokenID
	VoterID    domain.VoterID
	ElectionID domain.ElectionID
	ExpiresAt  time.Time
}
