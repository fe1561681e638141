//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"ballotcore/internal/vote/models"
	"ballotcore/internal/vote/store/postgres"
	"ballotcore/pkg/domain"
	"ballotcore/pkg/platform/sentinel"
	"ballotcore/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "anonymous_votes")
	s.Require().NoError(err)
}

func newTestRecord(handle string, electionID domain.ElectionID) *models.AnonymousVoteRecord {
	return &models.AnonymousVoteRecord{
		Handle:     handle,
		ElectionID: electionID,
		Payload: models.EncryptedPayload{
			Ciphertext:    []byte("opaque-ciphertext"),
			Nonce:         []byte("nonce-12345"),
			KeyCommitment: "commitment-" + uuid.NewString(),
		},
		PayloadSignature: []byte("payload-signature"),
		SubmittedAt:      time.Now().UTC().Truncate(time.Microsecond),
		Status:           models.StatusCast,
	}
}

func (s *PostgresStoreSuite) TestCreateAndGetByHandle() {
	ctx := context.Background()
	electionID := domain.ElectionID(uuid.New())
	record := newTestRecord("handle-"+uuid.NewString(), electionID)

	err := s.store.Create(ctx, record)
	s.Require().NoError(err)

	got, err := s.store.GetByHandle(ctx, record.Handle, electionID)
	s.Require().NoError(err)
	s.Equal(record.Handle, got.Handle)
	s.Equal(record.ElectionID, got.ElectionID)
	s.Equal(record.Payload.Ciphertext, got.Payload.Ciphertext)
	s.Equal(record.Payload.Nonce, got.Payload.Nonce)
	s.Equal(record.Payload.KeyCommitment, got.Payload.KeyCommitment)
	s.Equal(record.PayloadSignature, got.PayloadSignature)
	s.Equal(models.StatusCast, got.Status)
	s.WithinDuration(record.SubmittedAt, got.SubmittedAt, time.Millisecond)
}

func (s *PostgresStoreSuite) TestGetByHandleNotFound() {
	_, err := s.store.GetByHandle(context.Background(), "no-such-handle", domain.ElectionID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestExists() {
	ctx := context.Background()
	electionID := domain.ElectionID(uuid.New())
	record := newTestRecord("handle-"+uuid.NewString(), electionID)

	exists, err := s.store.Exists(ctx, record.Handle, electionID)
	s.Require().NoError(err)
	s.False(exists)

	s.Require().NoError(s.store.Create(ctx, record))

	exists, err = s.store.Exists(ctx, record.Handle, electionID)
	s.Require().NoError(err)
	s.True(exists)

	// Same handle under a different election is a different key.
	exists, err = s.store.Exists(ctx, record.Handle, domain.ElectionID(uuid.New()))
	s.Require().NoError(err)
	s.False(exists)
}

// TestConcurrentDuplicateHandle verifies the (handle, election) primary key:
// concurrent inserts for one handle admit exactly one row.
func (s *PostgresStoreSuite) TestConcurrentDuplicateHandle() {
	ctx := context.Background()
	electionID := domain.ElectionID(uuid.New())
	handle := "handle-" + uuid.NewString()
	const goroutines = 50

	var wg sync.WaitGroup
	var successCount atomic.Int32
	var conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := s.store.Create(ctx, newTestRecord(handle, electionID))
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflictCount.Add(1)
			}
		}()
	}

	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one create should succeed")
	s.Equal(int32(goroutines-1), conflictCount.Load(), "all others should get conflict error")
}

func (s *PostgresStoreSuite) TestSameElectionDistinctHandles() {
	ctx := context.Background()
	electionID := domain.ElectionID(uuid.New())
	const goroutines = 30

	var wg sync.WaitGroup
	var errCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.store.Create(ctx, newTestRecord("handle-"+uuid.NewString(), electionID)); err != nil {
				errCount.Add(1)
			}
		}()
	}

	wg.Wait()

	s.Equal(int32(0), errCount.Load(), "distinct handles should never collide")
}
