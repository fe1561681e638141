// Package models defines the audit ledger's entry shape and its canonical
// hashing rules. The ledger is an append-only, hash-chained sequence: each
// entry embeds the digest of its predecessor, so any retroactive edit is
// detectable by refolding the chain.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EventType classifies a security-relevant action recorded in the ledger.
type EventType string

const (
	EventTokenIssued       EventType = "token_issued"
	EventTokenValidated    EventType = "token_validated"
	EventTokenInvalidated  EventType = "token_invalidated"
	EventVoteCast          EventType = "vote_cast"
	EventVoteRejected      EventType = "vote_rejected"
	EventAdminAction       EventType = "admin_action"
	EventSecurityViolation EventType = "security_violation"
)

// validEventTypes is the single source of truth for ledger event types.
var validEventTypes = map[EventType]bool{
	EventTokenIssued:       true,
	EventTokenValidated:    true,
	EventTokenInvalidated:  true,
	EventVoteCast:          true,
	EventVoteRejected:      true,
	EventAdminAction:       true,
	EventSecurityViolation: true,
}

// IsValid checks the event type against the supported enum values.
func (t EventType) IsValid() bool { return validEventTypes[t] }

// GenesisPrevHash is the previous-hash value of the entry at position 0.
var GenesisPrevHash = hex.EncodeToString(make([]byte, sha256.Size))

// Entry is one immutable record in the audit ledger.
//
// Invariants: positions are monotonic and gapless; PrevHash equals the
// predecessor's ContentHash; the signature covers position, content hash,
// previous hash, and timestamp. Entries are never mutated or deleted.
type Entry struct {
	Position int64
	Type     EventType

	// ActorRef names who triggered the event. Empty for vote events, which
	// must stay anonymous.
	ActorRef string

	// Metadata carries event-specific details. Vote events hold only the
	// anonymous handle and election id, never voter identity.
	Metadata map[string]string

	Timestamp   time.Time
	ContentHash string
	PrevHash    string
	Signature   []byte
}

// contentEnvelope fixes the field order hashed into ContentHash. Map keys
// are sorted by encoding/json, so the digest is deterministic.
type contentEnvelope struct {
	Type      EventType         `json:"type"`
	ActorRef  string            `json:"actor_ref,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// ComputeContentHash digests the entry payload. Stored and recomputed
// hashes must agree for the entry to verify.
func ComputeContentHash(t EventType, actorRef string, metadata map[string]string, ts time.Time) string {
	raw, err := json.Marshal(contentEnvelope{
		Type:      t,
		ActorRef:  actorRef,
		Metadata:  metadata,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		// Only map values can fail marshalling and ours are strings.
		panic(fmt.Sprintf("marshal audit content: %v", err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// SigningPayload is the canonical byte string signed for an entry.
func SigningPayload(position int64, contentHash, prevHash string, ts time.Time) []byte {
	return fmt.Appendf(nil, "%d|%s|%s|%s",
		position, contentHash, prevHash, ts.UTC().Format(time.RFC3339Nano))
}

// SigningPayload returns the canonical bytes covered by e.Signature.
func (e *Entry) SigningPayload() []byte {
	return SigningPayload(e.Position, e.ContentHash, e.PrevHash, e.Timestamp)
}
