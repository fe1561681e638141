// Package anonymizer derives anonymous vote handles.
//
// The handle is a keyed one-way hash of (token id, election id) under a
// server-side secret: recomputing it from the same token always yields the
// same handle, which is what detects duplicate votes, while inverting it
// to a voter requires the secret plus the token record. No voter-to-vote
// lookup table exists anywhere.
package anonymizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"ballotcore/pkg/domain"
)

// Deriver computes anonymous handles under a fixed secret. Changing the
// secret mid-election would break duplicate detection, so the secret is
// loaded once at startup.
type Deriver struct {
	key []byte
}

// NewDeriver prepares a deriver from the configured secret. Secrets longer
// than the BLAKE2b key bound are folded through SHA-256 first.
func NewDeriver(secret []byte) (*Deriver, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("handle derivation secret is required")
	}
	key := secret
	if len(key) > blake2b.Size {
		sum := sha256.Sum256(key)
		key = sum[:]
	}
	return &Deriver{key: key}, nil
}

// Handle derives the anonymous handle for one (token, election) pair.
func (d *Deriver) Handle(tokenID domain.TokenID, electionID domain.ElectionID) string {
	h, err := blake2b.New256(d.key)
	if err != nil {
		// Key length is validated at construction.
		panic(fmt.Sprintf("blake2b init: %v", err))
	}
	h.Write([]byte(tokenID.String()))
	h.Write([]byte{'|'})
	h.Write([]byte(electionID.String()))
	return hex.EncodeToString(h.Sum(nil))
}
