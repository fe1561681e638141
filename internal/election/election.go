// Package election defines the core's view of election management, an
// external collaborator. The core only needs an election's temporal window
// and lifecycle status; scheduling and CRUD live in the enclosing
// application.
package election

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ballotcore/pkg/domain"
	"ballotcore/pkg/platform/sentinel"
)

// Status is the lifecycle state reported by election management.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusClosed    Status = "closed"
)

// Election is the slice of election state the core consumes.
type Election struct {
	ID     domain.ElectionID
	Starts time.Time
	Ends   time.Time
	Status Status
}

// ActiveAt reports whether votes may be accepted at instant t.
func (e Election) ActiveAt(t time.Time) bool {
	return e.Status == StatusActive && !t.Before(e.Starts) && t.Before(e.Ends)
}

// Directory resolves election identifiers to their temporal state.
//
//go:generate mockgen -destination=../../mocks/election/directory_mock.go -package=electionmock ballotcore/internal/election Directory
type Directory interface {
	Lookup(ctx context.Context, id domain.ElectionID) (Election, error)
}

// MemoryDirectory is a map-backed Directory for tests and dev mode.
type MemoryDirectory struct {
	mu        sync.RWMutex
	elections map[domain.ElectionID]Election
}

// NewMemoryDirectory constructs an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{elections: make(map[domain.ElectionID]Election)}
}

// Put registers or replaces an election.
func (d *MemoryDirectory) Put(e Election) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.elections[e.ID] = e
}

func (d *MemoryDirectory) Lookup(_ context.Context, id domain.ElectionID) (Election, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e, ok := d.elections[id]; ok {
		return e, nil
	}
	return Election{}, fmt.Errorf("election %s: %w", id, sentinel.ErrNotFound)
}
