// Package models defines the anonymized vote record. The record carries no
// voter identity: the anonymous handle is the only link, and reversing it
// requires the server-side derivation secret.
package models

import (
	"encoding/binary"
	"time"

	"ballotcore/pkg/domain"
)

// Status is the vote record state.
type Status string

const (
	StatusCast     Status = "cast"
	StatusRejected Status = "rejected"
)

// EncryptedPayload is the opaque ciphertext bundle submitted by a voter.
// The server never holds the decryption key; KeyCommitment is a one-way
// commitment used for integrity checking only.
type EncryptedPayload struct {
	Ciphertext    []byte
	Nonce         []byte
	KeyCommitment string
}

// SigningBytes is the canonical byte string covered by the payload
// signature. Fields are length-prefixed so no two distinct payloads share
// an encoding.
func (p EncryptedPayload) SigningBytes() []byte {
	out := make([]byte, 0, 12+len(p.Ciphertext)+len(p.Nonce)+len(p.KeyCommitment))
	out = appendField(out, p.Ciphertext)
	out = appendField(out, p.Nonce)
	out = appendField(out, []byte(p.KeyCommitment))
	return out
}

func appendField(dst, field []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(field)))
	return append(dst, field...)
}

// AnonymousVoteRecord is one accepted vote. Immutable after creation
// except for status. The handle is unique per (token, election), which is
// what enforces exactly-one-vote without any voter-to-vote linkage.
type AnonymousVoteRecord struct {
	Handle           string
	ElectionID       domain.ElectionID
	Payload          EncryptedPayload
	PayloadSignature []byte
	SubmittedAt      time.Time
	Status           Status
}

// VoteReceipt lets the voter independently confirm their vote was
// recorded. Only the holder of the receipt can associate the handle with
// themselves.
type VoteReceipt struct {
	Handle      string
	ElectionID  domain.ElectionID
	SubmittedAt time.Time
}

// VerificationResult reports stored-record integrity for a handle. The
// content is never decrypted; the server cannot.
type VerificationResult struct {
	Handle         string
	ElectionID     domain.ElectionID
	SignatureValid bool
	Status         Status
	SubmittedAt    time.Time
}
