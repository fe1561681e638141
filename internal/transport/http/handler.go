// Package httptransport is the thin HTTP layer over the core façade. It
// decodes requests, delegates, and translates domain errors; no business
// logic lives here.
package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ballotcore/internal/core"
	"ballotcore/internal/crypto/signer"
	ledgermodels "ballotcore/internal/ledger/models"
	offlinemodels "ballotcore/internal/offline/models"
	votemodels "ballotcore/internal/vote/models"
	votesvc "ballotcore/internal/vote/service"
	"ballotcore/pkg/domain"
	dErrors "ballotcore/pkg/domain-errors"
	"ballotcore/pkg/platform/httputil"
	"ballotcore/pkg/requestcontext"
)

// Handler serves the election core's HTTP API.
type Handler struct {
	core   *core.Core
	signer *signer.Signer
	logger *slog.Logger
}

// NewHandler constructs the HTTP handler over the core façade.
func NewHandler(c *core.Core, sig *signer.Signer, logger *slog.Logger) *Handler {
	return &Handler{core: c, signer: sig, logger: logger}
}

func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	voterID, err := domain.ParseVoterID(req.VoterID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid voter_id"))
		return
	}
	electionID, err := domain.ParseElectionID(req.ElectionID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid election_id"))
		return
	}

	token, err := h.core.IssueToken(r.Context(), voterID, electionID)
	if err != nil {
		h.writeFailure(w, r, "issue token", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toTokenResponse(token))
}

func (h *Handler) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	var req validateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	tokenID, err := domain.ParseTokenID(req.TokenID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid token_id"))
		return
	}
	electionID, err := domain.ParseElectionID(req.ElectionID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid election_id"))
		return
	}

	result, err := h.core.ValidateToken(r.Context(), tokenID, req.Signature, electionID)
	if err != nil {
		h.writeFailure(w, r, "validate token", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, validationResponse{
		TokenID:    result.TokenID.String(),
		ElectionID: result.ElectionID.String(),
		ExpiresAt:  result.ExpiresAt,
		Valid:      true,
	})
}

func (h *Handler) handleInvalidateToken(w http.ResponseWriter, r *http.Request) {
	tokenID, err := domain.ParseTokenID(chi.URLParam(r, "tokenID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid token id"))
		return
	}
	var req invalidateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.Reason == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "reason is required"))
		return
	}

	if err := h.core.InvalidateToken(r.Context(), tokenID, req.Reason); err != nil {
		h.writeFailure(w, r, "invalidate token", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req castVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	tokenID, err := domain.ParseTokenID(req.TokenID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid token_id"))
		return
	}
	electionID, err := domain.ParseElectionID(req.ElectionID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid election_id"))
		return
	}

	receipt, err := h.core.CastVote(r.Context(), votesvc.CastRequest{
		TokenID:          tokenID,
		TokenSignature:   req.TokenSignature,
		ElectionID:       electionID,
		Payload: votemodels.EncryptedPayload{
			Ciphertext:    req.Payload.Ciphertext,
			Nonce:         req.Payload.Nonce,
			KeyCommitment: req.Payload.KeyCommitment,
		},
		PayloadSignature: req.PayloadSignature,
	})
	if err != nil {
		h.writeFailure(w, r, "cast vote", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toReceiptResponse(receipt))
}

func (h *Handler) handleVerifyVote(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	electionID, err := domain.ParseElectionID(r.URL.Query().Get("election_id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid election_id"))
		return
	}

	result, err := h.core.VerifyVote(r.Context(), handle, electionID)
	if err != nil {
		h.writeFailure(w, r, "verify vote", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, voteVerificationResponse{
		Handle:         result.Handle,
		ElectionID:     result.ElectionID.String(),
		SignatureValid: result.SignatureValid,
		Status:         string(result.Status),
		SubmittedAt:    result.SubmittedAt,
	})
}

func (h *Handler) handleVerifyAuditChain(w http.ResponseWriter, r *http.Request) {
	quick := r.URL.Query().Get("quick") == "true"

	result, err := h.core.VerifyAuditChain(r.Context(), quick)
	if err != nil {
		h.writeFailure(w, r, "verify audit chain", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toChainVerificationResponse(result))
}

func (h *Handler) handleRecentAuditEntries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid limit"))
			return
		}
		limit = n
	}

	entries, err := h.core.RecentAuditEntries(r.Context(), limit)
	if err != nil {
		h.writeFailure(w, r, "list audit entries", err)
		return
	}
	resp := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toAuditEntryResponse(e))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAppendAuditEvent(w http.ResponseWriter, r *http.Request) {
	var req appendAuditEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	actor := requestcontext.ActorID(r.Context())
	entry, err := h.core.AppendAuditEvent(r.Context(), ledgermodels.EventType(req.Type), actor, req.Metadata)
	if err != nil {
		h.writeFailure(w, r, "append audit event", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toAuditEntryResponse(entry))
}

func (h *Handler) handleEnqueueOffline(w http.ResponseWriter, r *http.Request) {
	var req enqueueOfflineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	item, err := h.core.EnqueueOffline(r.Context(), offlinemodels.OperationType(req.Op), req.Payload, req.IdempotencyKey)
	if err != nil {
		h.writeFailure(w, r, "enqueue offline item", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, toOfflineItemResponse(item))
}

func (h *Handler) handlePendingOffline(w http.ResponseWriter, r *http.Request) {
	items, err := h.core.PendingOffline(r.Context())
	if err != nil {
		h.writeFailure(w, r, "list offline queue", err)
		return
	}
	resp := make([]offlineItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toOfflineItemResponse(item))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleReplayOffline(w http.ResponseWriter, r *http.Request) {
	report, err := h.core.ReplayOfflineQueue(r.Context())
	if err != nil {
		h.writeFailure(w, r, "replay offline queue", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toReplayReportResponse(report))
}

// handlePublicKey serves the verification key so external auditors can check
// token, vote, and ledger signatures without any private material.
func (h *Handler) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	pemBytes, err := h.signer.PublicKeyPEM()
	if err != nil {
		h.writeFailure(w, r, "export public key", err)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	_, _ = w.Write(pemBytes)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeFailure logs infrastructure failures and hands all errors to the
// shared translator. Domain failures log at warn; they are expected traffic.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "request failed",
			"op", op,
			"error", err,
			"request_id", requestcontext.RequestID(ctx))
	} else {
		h.logger.WarnContext(ctx, "request refused",
			"op", op,
			"code", string(dErrors.CodeOf(err)),
			"request_id", requestcontext.RequestID(ctx))
	}
	httputil.WriteError(w, err)
}
