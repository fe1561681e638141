// Package models defines the offline queue's durable command shapes. Items
// are local-only: they never leave the node and are destroyed once their
// replay is confirmed applied.
package models

import (
	"encoding/json"
	"time"

	"ballotcore/pkg/domain"
)

// OperationType names the core entry point a queued item replays into.
type OperationType string

const (
	OpIssueToken OperationType = "issue_token"
	OpCastVote   OperationType = "cast_vote"
)

// IsValid checks the operation type against the supported enum values.
func (t OperationType) IsValid() bool {
	return t == OpIssueToken || t == OpCastVote
}

// Item wraps one pending operation attempted without connectivity.
type Item struct {
	ID             domain.QueueItemID `json:"id"`
	Op             OperationType      `json:"op"`
	Payload        json.RawMessage    `json:"payload"`
	IdempotencyKey string             `json:"idempotency_key"`
	EnqueuedAt     time.Time          `json:"enqueued_at"`
	RetryCount     int                `json:"retry_count"`
	LastError      string             `json:"last_error,omitempty"`
}

// IssueTokenCommand is the payload of an OpIssueToken item.
type IssueTokenCommand struct {
	VoterID    string `json:"voter_id"`
	ElectionID string `json:"election_id"`
}

// CastVoteCommand is the payload of an OpCastVote item. Binary fields are
// base64 in JSON.
type CastVoteCommand struct {
	TokenID          string `json:"token_id"`
	TokenSignature   []byte `json:"token_signature"`
	ElectionID       string `json:"election_id"`
	Ciphertext       []byte `json:"ciphertext"`
	Nonce            []byte `json:"nonce"`
	KeyCommitment    string `json:"key_commitment"`
	PayloadSignature []byte `json:"payload_signature"`
}
