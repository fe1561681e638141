package httptransport

import "encoding/json"

// issueTokenRequest asks for a ballot token. Issuance happens on behalf of
// an authenticated registrar; the voter reference is opaque to the core.
type issueTokenRequest struct {
	VoterID    string `json:"voter_id"`
	ElectionID string `json:"election_id"`
}

type validateTokenRequest struct {
	TokenID    string `json:"token_id"`
	Signature  []byte `json:"signature"`
	ElectionID string `json:"election_id"`
}

type invalidateTokenRequest struct {
	Reason string `json:"reason"`
}

type encryptedPayloadRequest struct {
	Ciphertext    []byte `json:"ciphertext"`
	Nonce         []byte `json:"nonce"`
	KeyCommitment string `json:"key_commitment"`
}

type castVoteRequest struct {
	TokenID          string                  `json:"token_id"`
	TokenSignature   []byte                  `json:"token_signature"`
	ElectionID       string                  `json:"election_id"`
	Payload          encryptedPayloadRequest `json:"payload"`
	PayloadSignature []byte                  `json:"payload_signature"`
}

type appendAuditEventRequest struct {
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata"`
}

type enqueueOfflineRequest struct {
	Op             string          `json:"op"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
}
