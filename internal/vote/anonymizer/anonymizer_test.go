package anonymizer

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ballotcore/pkg/domain"
)

func TestHandle_Deterministic(t *testing.T) {
	d, err := NewDeriver([]byte("election-secret"))
	require.NoError(t, err)

	tokenID := domain.TokenID(uuid.New())
	electionID := domain.ElectionID(uuid.New())

	first := d.Handle(tokenID, electionID)
	second := d.Handle(tokenID, electionID)
	assert.Equal(t, first, second, "same inputs must always derive the same handle")
	assert.Len(t, first, 64)
}

func TestHandle_DistinctInputsDistinctHandles(t *testing.T) {
	d, err := NewDeriver([]byte("election-secret"))
	require.NoError(t, err)

	electionID := domain.ElectionID(uuid.New())
	a := d.Handle(domain.TokenID(uuid.New()), electionID)
	b := d.Handle(domain.TokenID(uuid.New()), electionID)
	assert.NotEqual(t, a, b)
}

func TestHandle_SecretChangesHandle(t *testing.T) {
	tokenID := domain.TokenID(uuid.New())
	electionID := domain.ElectionID(uuid.New())

	d1, err := NewDeriver([]byte("secret-one"))
	require.NoError(t, err)
	d2, err := NewDeriver([]byte("secret-two"))
	require.NoError(t, err)

	assert.NotEqual(t, d1.Handle(tokenID, electionID), d2.Handle(tokenID, electionID),
		"handle must not be derivable without the server secret")
}

func TestNewDeriver_Validation(t *testing.T) {
	t.Run("rejects empty secret", func(t *testing.T) {
		_, err := NewDeriver(nil)
		require.Error(t, err)
	})

	t.Run("accepts oversized secret by folding", func(t *testing.T) {
		long := make([]byte, 200)
		d, err := NewDeriver(long)
		require.NoError(t, err)
		assert.Len(t, d.Handle(domain.TokenID(uuid.New()), domain.ElectionID(uuid.New())), 64)
	})
}
