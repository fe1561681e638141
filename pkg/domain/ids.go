// Package domain defines the typed identifiers shared across the
// election-integrity core.
//
// Each entity gets its own UUID-backed type so the compiler rejects a
// VoterID where an ElectionID is expected. Construct IDs at trust
// boundaries with the ParseXxxID functions; direct casting bypasses
// validation.
package domain

import (
	"github.com/google/uuid"

	dErrors "ballotcore/pkg/domain-errors"
)

// VoterID identifies an eligible voter. It references the identity managed
// by the access-control layer; the core never stores it next to a vote.
type VoterID uuid.UUID

// ElectionID identifies one election and its voting window.
type ElectionID uuid.UUID

// TokenID identifies a single-use ballot token.
type TokenID uuid.UUID

// EntryID identifies an audit ledger entry.
type EntryID uuid.UUID

// QueueItemID identifies a locally buffered offline operation.
type QueueItemID uuid.UUID

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be nil")
	}
	return u, nil
}

// ParseVoterID constructs a VoterID from external input.
func ParseVoterID(s string) (VoterID, error) {
	u, err := parseUUID(s, "voter id")
	return VoterID(u), err
}

// ParseElectionID constructs an ElectionID from external input.
func ParseElectionID(s string) (ElectionID, error) {
	u, err := parseUUID(s, "election id")
	return ElectionID(u), err
}

// ParseTokenID constructs a TokenID from external input.
func ParseTokenID(s string) (TokenID, error) {
	u, err := parseUUID(s, "token id")
	return TokenID(u), err
}

// NewTokenID returns a fresh random token identifier.
func NewTokenID() TokenID { return TokenID(uuid.New()) }

// NewEntryID returns a fresh random audit entry identifier.
func NewEntryID() EntryID { return EntryID(uuid.New()) }

// NewQueueItemID returns a fresh random queue item identifier.
func NewQueueItemID() QueueItemID { return QueueItemID(uuid.New()) }

func (id VoterID) String() string     { return uuid.UUID(id).String() }
func (id ElectionID) String() string  { return uuid.UUID(id).String() }
func (id TokenID) String() string     { return uuid.UUID(id).String() }
func (id EntryID) String() string     { return uuid.UUID(id).String() }
func (id QueueItemID) String() string { return uuid.UUID(id).String() }

func (id VoterID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ElectionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id TokenID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id QueueItemID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// QueueItemID round-trips through JSON as its canonical UUID string, since
// queue items are serialized whole into durable offline storage.
func (id QueueItemID) MarshalText() ([]byte, error) {
	return []byte(uuid.UUID(id).String()), nil
}

func (id *QueueItemID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*id = QueueItemID(u)
	return nil
}
