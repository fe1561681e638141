package httptransport

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotcore/internal/core"
	"ballotcore/internal/crypto/signer"
	"ballotcore/internal/election"
	ledgersvc "ballotcore/internal/ledger/service"
	ledgerstore "ballotcore/internal/ledger/store/memory"
	"ballotcore/internal/offline/coordinator"
	offlinestore "ballotcore/internal/offline/store/memory"
	"ballotcore/internal/platform/metrics"
	tokensvc "ballotcore/internal/token/service"
	tokenstore "ballotcore/internal/token/store/memory"
	"ballotcore/internal/vote/anonymizer"
	votemodels "ballotcore/internal/vote/models"
	votesvc "ballotcore/internal/vote/service"
	votestore "ballotcore/internal/vote/store/memory"
	"ballotcore/pkg/domain"
	"ballotcore/pkg/platform/middleware/auth"
	"ballotcore/pkg/platform/tx"
)

var jwtKey = []byte("handler-test-jwt-key")

var testMetrics *metrics.Metrics

func sharedMetrics() *metrics.Metrics {
	if testMetrics == nil {
		prometheus.DefaultRegisterer = prometheus.NewRegistry()
		testMetrics = metrics.New()
	}
	return testMetrics
}

type fixture struct {
	server   *httptest.Server
	signer   *signer.Signer
	election election.Election
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	sig := signer.New(key)

	deriver, err := anonymizer.NewDeriver([]byte("handler test secret"))
	require.NoError(t, err)

	runner := tx.NewMemoryRunner()
	auditSvc := ledgersvc.NewService(ledgerstore.New(), sig, runner, slog.Default())

	now := time.Now().UTC()
	el := election.Election{
		ID:     domain.ElectionID(uuid.New()),
		Starts: now.Add(-time.Hour),
		Ends:   now.Add(48 * time.Hour),
		Status: election.StatusActive,
	}
	dir := election.NewMemoryDirectory()
	dir.Put(el)

	tokens := tokensvc.NewService(tokenstore.New(), sig, dir, auditSvc, runner, slog.Default())
	votes := votesvc.NewService(votestore.New(), tokens, deriver, sig, auditSvc, runner, slog.Default())
	offline := coordinator.New(offlinestore.New(), slog.Default())

	c := core.New(tokens, votes, auditSvc, offline, sharedMetrics(), slog.Default())
	handler := NewHandler(c, sig, slog.Default())
	verifier := auth.NewVerifier(jwtKey, slog.Default())

	server := httptest.NewServer(NewRouter(handler, verifier))
	t.Cleanup(server.Close)

	return &fixture{server: server, signer: sig, election: el}
}

func bearerToken(t *testing.T, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  "caller-" + uuid.NewString(),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtKey)
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestTokenEndpoints(t *testing.T) {
	f := newFixture(t)
	caller := bearerToken(t, "registrar")

	issue := issueTokenRequest{
		VoterID:    uuid.NewString(),
		ElectionID: f.election.ID.String(),
	}
	resp := f.do(t, http.MethodPost, "/tokens", caller, issue)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	token := decode[tokenResponse](t, resp)
	assert.Equal(t, "issued", token.Status)
	assert.NotEmpty(t, token.Signature)

	t.Run("validate", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/tokens/validate", caller, validateTokenRequest{
			TokenID:    token.TokenID,
			Signature:  token.Signature,
			ElectionID: f.election.ID.String(),
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		result := decode[validationResponse](t, resp)
		assert.True(t, result.Valid)
	})

	t.Run("duplicate issuance conflicts", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/tokens", caller, issue)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		body := decode[map[string]string](t, resp)
		assert.Equal(t, "duplicate_token", body["error"])
	})

	t.Run("invalidate requires admin role", func(t *testing.T) {
		path := fmt.Sprintf("/tokens/%s/invalidate", token.TokenID)

		resp := f.do(t, http.MethodPost, path, caller, invalidateTokenRequest{Reason: "test"})
		require.Equal(t, http.StatusForbidden, resp.StatusCode)

		admin := bearerToken(t, AdminRole)
		resp = f.do(t, http.MethodPost, path, admin, invalidateTokenRequest{Reason: "voter deregistered"})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/tokens", "", issue)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("bad voter id", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/tokens", caller, issueTokenRequest{
			VoterID:    "not-a-uuid",
			ElectionID: f.election.ID.String(),
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestVoteEndpoints(t *testing.T) {
	f := newFixture(t)
	caller := bearerToken(t, "voter")

	resp := f.do(t, http.MethodPost, "/tokens", caller, issueTokenRequest{
		VoterID:    uuid.NewString(),
		ElectionID: f.election.ID.String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	token := decode[tokenResponse](t, resp)

	payload := votemodels.EncryptedPayload{
		Ciphertext:    []byte("sealed ballot"),
		Nonce:         []byte("nonce"),
		KeyCommitment: "commitment",
	}
	payloadSig, err := f.signer.Sign(payload.SigningBytes())
	require.NoError(t, err)

	cast := castVoteRequest{
		TokenID:        token.TokenID,
		TokenSignature: token.Signature,
		ElectionID:     f.election.ID.String(),
		Payload: encryptedPayloadRequest{
			Ciphertext:    payload.Ciphertext,
			Nonce:         payload.Nonce,
			KeyCommitment: payload.KeyCommitment,
		},
		PayloadSignature: payloadSig,
	}
	resp = f.do(t, http.MethodPost, "/votes", caller, cast)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	receipt := decode[receiptResponse](t, resp)
	assert.NotEmpty(t, receipt.Handle)

	t.Run("verify by receipt handle", func(t *testing.T) {
		path := fmt.Sprintf("/votes/%s/verify?election_id=%s", receipt.Handle, f.election.ID)
		resp := f.do(t, http.MethodGet, path, caller, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		result := decode[voteVerificationResponse](t, resp)
		assert.True(t, result.SignatureValid)
	})

	t.Run("double cast refused", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/votes", caller, cast)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("audit chain reflects the activity", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/audit/verify", caller, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		result := decode[chainVerificationResponse](t, resp)
		assert.True(t, result.Valid)
		assert.GreaterOrEqual(t, result.Checked, 3)
	})
}

func TestAuditAdminEndpoints(t *testing.T) {
	f := newFixture(t)
	admin := bearerToken(t, AdminRole)

	resp := f.do(t, http.MethodPost, "/audit/events", admin, appendAuditEventRequest{
		Type:     "admin_action",
		Metadata: map[string]string{"action": "export_results"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	entry := decode[auditEntryResponse](t, resp)
	assert.Equal(t, int64(0), entry.Position)
	assert.NotEmpty(t, entry.ActorRef, "actor must come from the caller token")

	t.Run("recent listing", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/audit/recent?limit=10", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		entries := decode[[]auditEntryResponse](t, resp)
		assert.Len(t, entries, 1)
	})

	t.Run("unknown event type", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/audit/events", admin, appendAuditEventRequest{Type: "nap"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestOfflineEndpoints(t *testing.T) {
	f := newFixture(t)
	admin := bearerToken(t, AdminRole)

	voterID := uuid.NewString()
	payload, err := json.Marshal(map[string]string{
		"voter_id":    voterID,
		"election_id": f.election.ID.String(),
	})
	require.NoError(t, err)

	resp := f.do(t, http.MethodPost, "/offline/queue", admin, enqueueOfflineRequest{
		Op:             "issue_token",
		Payload:        payload,
		IdempotencyKey: "issue:" + voterID,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	t.Run("queue listing", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/offline/queue", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		items := decode[[]offlineItemResponse](t, resp)
		require.Len(t, items, 1)
		assert.Equal(t, "issue_token", items[0].Op)
	})

	t.Run("replay drains the queue", func(t *testing.T) {
		resp := f.do(t, http.MethodPost, "/offline/replay", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		report := decode[replayReportResponse](t, resp)
		assert.Equal(t, 1, report.Applied)

		resp = f.do(t, http.MethodGet, "/offline/queue", admin, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		items := decode[[]offlineItemResponse](t, resp)
		assert.Empty(t, items)
	})
}

func TestPublicEndpoints(t *testing.T) {
	f := newFixture(t)

	t.Run("health", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/healthz", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("public key", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/publickey", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var buf bytes.Buffer
		_, err := buf.ReadFrom(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, buf.String(), "BEGIN PUBLIC KEY")
	})

	t.Run("metrics", func(t *testing.T) {
		resp := f.do(t, http.MethodGet, "/metrics", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
