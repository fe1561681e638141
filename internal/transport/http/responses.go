package httptransport

import (
	"time"

	ledgermodels "ballotcore/internal/ledger/models"
	ledgersvc "ballotcore/internal/ledger/service"
	"ballotcore/internal/offline/coordinator"
	offlinemodels "ballotcore/internal/offline/models"
	tokenmodels "ballotcore/internal/token/models"
	votemodels "ballotcore/internal/vote/models"
)

type tokenResponse struct {
	TokenID    string    `json:"token_id"`
	VoterID    string    `json:"voter_id"`
	ElectionID string    `json:"election_id"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Signature  []byte    `json:"signature"`
	Status     string    `json:"status"`
}

func toTokenResponse(t *tokenmodels.BallotToken) tokenResponse {
	return tokenResponse{
		TokenID:    t.ID.String(),
		VoterID:    t.VoterID.String(),
		ElectionID: t.ElectionID.String(),
		IssuedAt:   t.IssuedAt,
		ExpiresAt:  t.ExpiresAt,
		Signature:  t.Signature,
		Status:     string(t.Status),
	}
}

type validationResponse struct {
	TokenID    string    `json:"token_id"`
	ElectionID string    `json:"election_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	Valid      bool      `json:"valid"`
}

type receiptResponse struct {
	Handle      string    `json:"handle"`
	ElectionID  string    `json:"election_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func toReceiptResponse(r *votemodels.VoteReceipt) receiptResponse {
	return receiptResponse{
		Handle:      r.Handle,
		ElectionID:  r.ElectionID.String(),
		SubmittedAt: r.SubmittedAt,
	}
}

type voteVerificationResponse struct {
	Handle         string    `json:"handle"`
	ElectionID     string    `json:"election_id"`
	SignatureValid bool      `json:"signature_valid"`
	Status         string    `json:"status"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

type chainFailureResponse struct {
	Position int64  `json:"position"`
	Reason   string `json:"reason"`
}

type chainVerificationResponse struct {
	Valid    bool                   `json:"valid"`
	From     int64                  `json:"from"`
	To       int64                  `json:"to"`
	Checked  int                    `json:"checked"`
	Failures []chainFailureResponse `json:"failures,omitempty"`
}

func toChainVerificationResponse(r ledgersvc.ChainVerificationResult) chainVerificationResponse {
	resp := chainVerificationResponse{
		Valid:   r.Valid(),
		From:    r.From,
		To:      r.To,
		Checked: r.Checked,
	}
	for _, f := range r.Failures {
		resp.Failures = append(resp.Failures, chainFailureResponse{Position: f.Position, Reason: f.Reason})
	}
	return resp
}

type auditEntryResponse struct {
	Position    int64             `json:"position"`
	Type        string            `json:"type"`
	ActorRef    string            `json:"actor_ref,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	ContentHash string            `json:"content_hash"`
	PrevHash    string            `json:"prev_hash"`
	Signature   []byte            `json:"signature"`
}

func toAuditEntryResponse(e *ledgermodels.Entry) auditEntryResponse {
	return auditEntryResponse{
		Position:    e.Position,
		Type:        string(e.Type),
		ActorRef:    e.ActorRef,
		Metadata:    e.Metadata,
		Timestamp:   e.Timestamp,
		ContentHash: e.ContentHash,
		PrevHash:    e.PrevHash,
		Signature:   e.Signature,
	}
}

type offlineItemResponse struct {
	ID             string    `json:"id"`
	Op             string    `json:"op"`
	IdempotencyKey string    `json:"idempotency_key"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	RetryCount     int       `json:"retry_count"`
	LastError      string    `json:"last_error,omitempty"`
}

func toOfflineItemResponse(item *offlinemodels.Item) offlineItemResponse {
	return offlineItemResponse{
		ID:             item.ID.String(),
		Op:             string(item.Op),
		IdempotencyKey: item.IdempotencyKey,
		EnqueuedAt:     item.EnqueuedAt,
		RetryCount:     item.RetryCount,
		LastError:      item.LastError,
	}
}

type replayFailureResponse struct {
	ItemID         string `json:"item_id"`
	IdempotencyKey string `json:"idempotency_key"`
	Error          string `json:"error"`
}

type replayReportResponse struct {
	Attempted int                     `json:"attempted"`
	Applied   int                     `json:"applied"`
	Skipped   int                     `json:"skipped"`
	Failed    int                     `json:"failed"`
	Failures  []replayFailureResponse `json:"failures,omitempty"`
}

func toReplayReportResponse(r *coordinator.ReplayReport) replayReportResponse {
	resp := replayReportResponse{
		Attempted: r.Attempted,
		Applied:   r.Applied,
		Skipped:   r.Skipped,
		Failed:    r.Failed,
	}
	for _, f := range r.Failures {
		resp.Failures = append(resp.Failures, replayFailureResponse{
			ItemID:         f.ItemID.String(),
			IdempotencyKey: f.IdempotencyKey,
			Error:          f.Error,
		})
	}
	return resp
}
