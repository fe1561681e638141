package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotcore/internal/crypto/signer"
	"ballotcore/internal/election"
	ledgermodels "ballotcore/internal/ledger/models"
	ledger "ballotcore/internal/ledger/service"
	ledgerstore "ballotcore/internal/ledger/store/memory"
	tokenmodels "ballotcore/internal/token/models"
	tokensvc "ballotcore/internal/token/service"
	tokenstore "ballotcore/internal/token/store/memory"
	"ballotcore/internal/vote/anonymizer"
	"ballotcore/internal/vote/models"
	"ballotcore/internal/vote/store/memory"
	"ballotcore/pkg/domain"
	dErrors "ballotcore/pkg/domain-errors"
	"ballotcore/pkg/platform/tx"
	"ballotcore/pkg/requestcontext"
)

type fixture struct {
	votes    *Service
	tokens   *tokensvc.Service
	signer   *signer.Signer
	deriver  *anonymizer.Deriver
	store    *memory.Store
	tokenDB  *tokenstore.Store
	ledger   *ledgerstore.Store
	election election.Election
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	sig := signer.New(key)

	deriver, err := anonymizer.NewDeriver([]byte("test handle derivation secret"))
	require.NoError(t, err)

	runner := tx.NewMemoryRunner()
	auditStore := ledgerstore.New()
	auditSvc := ledger.NewService(auditStore, sig, runner, slog.Default())

	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	el := election.Election{
		ID:     domain.ElectionID(uuid.New()),
		Starts: now.Add(-time.Hour),
		Ends:   now.Add(48 * time.Hour),
		Status: election.StatusActive,
	}
	dir := election.NewMemoryDirectory()
	dir.Put(el)

	tokenDB := tokenstore.New()
	tokens := tokensvc.NewService(tokenDB, sig, dir, auditSvc, runner, slog.Default())

	store := memory.New()
	return &fixture{
		votes:    NewService(store, tokens, deriver, sig, auditSvc, runner, slog.Default()),
		tokens:   tokens,
		signer:   sig,
		deriver:  deriver,
		store:    store,
		tokenDB:  tokenDB,
		ledger:   auditStore,
		election: el,
		now:      now,
	}
}

func (f *fixture) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), f.now)
}

// issueToken provisions a fresh token and a request ready to cast with it.
func (f *fixture) issueToken(t *testing.T) (*tokenmodels.BallotToken, CastRequest) {
	t.Helper()
	token, err := f.tokens.Issue(f.ctx(), domain.VoterID(uuid.New()), f.election.ID)
	require.NoError(t, err)

	payload := models.EncryptedPayload{
		Ciphertext:    []byte("opaque ciphertext"),
		Nonce:         []byte("nonce-123"),
		KeyCommitment: "commit-abc",
	}
	payloadSig, err := f.signer.Sign(payload.SigningBytes())
	require.NoError(t, err)

	return token, CastRequest{
		TokenID:          token.ID,
		TokenSignature:   token.Signature,
		ElectionID:       f.election.ID,
		Payload:          payload,
		PayloadSignature: payloadSig,
	}
}

func (f *fixture) auditTypes(t *testing.T) []ledgermodels.EventType {
	t.Helper()
	max, err := f.ledger.MaxPosition(context.Background())
	require.NoError(t, err)
	if max < 0 {
		return nil
	}
	entries, err := f.ledger.Range(context.Background(), 0, max)
	require.NoError(t, err)
	types := make([]ledgermodels.EventType, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.Type)
	}
	return types
}

func TestCast(t *testing.T) {
	f := newFixture(t)
	token, req := f.issueToken(t)

	receipt, err := f.votes.Cast(f.ctx(), req)
	require.NoError(t, err)

	assert.Equal(t, f.deriver.Handle(token.ID, f.election.ID), receipt.Handle)
	assert.Equal(t, f.now, receipt.SubmittedAt)

	// The token ended consumed.
	stored, err := f.tokenDB.Get(context.Background(), token.ID)
	require.NoError(t, err)
	assert.Equal(t, tokenmodels.StatusValidated, stored.Status)

	// Issuance, consumption, and the vote all left ledger entries, in order.
	assert.Equal(t, []ledgermodels.EventType{
		ledgermodels.EventTokenIssued,
		ledgermodels.EventTokenValidated,
		ledgermodels.EventVoteCast,
	}, f.auditTypes(t))

	// The stored record holds no voter identity.
	record, err := f.store.GetByHandle(context.Background(), receipt.Handle, f.election.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCast, record.Status)
	assert.Equal(t, req.Payload.Ciphertext, record.Payload.Ciphertext)
}

func TestCast_DuplicateSameToken(t *testing.T) {
	f := newFixture(t)
	_, req := f.issueToken(t)

	_, err := f.votes.Cast(f.ctx(), req)
	require.NoError(t, err)

	_, err = f.votes.Cast(f.ctx(), req)
	require.Error(t, err)
	// The consumed token fails revalidation before the handle is ever
	// checked; either way the second submission is refused.
	assert.True(t,
		dErrors.HasCode(err, dErrors.CodeTokenValidationFailed) ||
			dErrors.HasCode(err, dErrors.CodeDuplicateVote))

	types := f.auditTypes(t)
	assert.Equal(t, ledgermodels.EventVoteRejected, types[len(types)-1])
}

func TestCast_DuplicateHandle(t *testing.T) {
	// A record already existing under the handle must be refused even when
	// the token still looks issuable.
	f := newFixture(t)
	token, req := f.issueToken(t)

	handle := f.deriver.Handle(token.ID, f.election.ID)
	require.NoError(t, f.store.Create(context.Background(), &models.AnonymousVoteRecord{
		Handle:     handle,
		ElectionID: f.election.ID,
		Payload:    req.Payload,
		Status:     models.StatusCast,
	}))

	_, err := f.votes.Cast(f.ctx(), req)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDuplicateVote))

	// The token was not consumed by the failed attempt.
	stored, err := f.tokenDB.Get(context.Background(), token.ID)
	require.NoError(t, err)
	assert.Equal(t, tokenmodels.StatusIssued, stored.Status)
}

func TestCast_TokenFailures(t *testing.T) {
	f := newFixture(t)

	t.Run("unknown token", func(t *testing.T) {
		_, req := f.issueToken(t)
		req.TokenID = domain.NewTokenID()

		_, err := f.votes.Cast(f.ctx(), req)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenValidationFailed))
	})

	t.Run("forged token signature", func(t *testing.T) {
		_, req := f.issueToken(t)
		req.TokenSignature = append([]byte(nil), req.TokenSignature...)
		req.TokenSignature[0] ^= 0xff

		_, err := f.votes.Cast(f.ctx(), req)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenValidationFailed))

		types := f.auditTypes(t)
		assert.Equal(t, ledgermodels.EventVoteRejected, types[len(types)-1])
	})

	t.Run("expired token", func(t *testing.T) {
		_, req := f.issueToken(t)

		late := requestcontext.WithTime(context.Background(), f.now.Add(25*time.Hour))
		_, err := f.votes.Cast(late, req)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTokenValidationFailed))
	})
}

func TestCast_InvalidPayloadSignature(t *testing.T) {
	f := newFixture(t)
	token, req := f.issueToken(t)
	req.PayloadSignature = append([]byte(nil), req.PayloadSignature...)
	req.PayloadSignature[0] ^= 0xff

	_, err := f.votes.Cast(f.ctx(), req)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidVoteSignature))

	// Nothing was persisted and the token survived.
	handle := f.deriver.Handle(token.ID, f.election.ID)
	exists, err := f.store.Exists(context.Background(), handle, f.election.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	stored, err := f.tokenDB.Get(context.Background(), token.ID)
	require.NoError(t, err)
	assert.Equal(t, tokenmodels.StatusIssued, stored.Status)

	types := f.auditTypes(t)
	assert.Equal(t, ledgermodels.EventVoteRejected, types[len(types)-1])
}

func TestCast_InputValidation(t *testing.T) {
	f := newFixture(t)
	_, req := f.issueToken(t)

	t.Run("missing ciphertext", func(t *testing.T) {
		bad := req
		bad.Payload.Ciphertext = nil
		_, err := f.votes.Cast(f.ctx(), bad)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("missing key commitment", func(t *testing.T) {
		bad := req
		bad.Payload.KeyCommitment = ""
		_, err := f.votes.Cast(f.ctx(), bad)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	_, req := f.issueToken(t)

	receipt, err := f.votes.Cast(f.ctx(), req)
	require.NoError(t, err)

	result, err := f.votes.Verify(f.ctx(), receipt.Handle, f.election.ID)
	require.NoError(t, err)
	assert.True(t, result.SignatureValid)
	assert.Equal(t, models.StatusCast, result.Status)

	t.Run("unknown handle", func(t *testing.T) {
		_, err := f.votes.Verify(f.ctx(), "no-such-handle", f.election.ID)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("stored signature tampered", func(t *testing.T) {
		record, err := f.store.GetByHandle(context.Background(), receipt.Handle, f.election.ID)
		require.NoError(t, err)

		tampered := *record
		tampered.Handle = "tampered-handle"
		tampered.PayloadSignature = append([]byte(nil), record.PayloadSignature...)
		tampered.PayloadSignature[0] ^= 0xff
		require.NoError(t, f.store.Create(context.Background(), &tampered))

		result, err := f.votes.Verify(f.ctx(), "tampered-handle", f.election.ID)
		require.NoError(t, err)
		assert.False(t, result.SignatureValid)
	})
}
