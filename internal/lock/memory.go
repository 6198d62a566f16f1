package lock

import (
	"context"
	"sync"
	"time"

	"arrowhead/api/internal/clock"
)

// MemoryStore keeps locks in process memory. It is only correct while a
// single API instance serves all traffic; use RedisStore otherwise.
type MemoryStore struct {
	clock clock.Clock

	mu    sync.Mutex
	locks map[string]Record
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryStore{
		clock: clk,
		locks: make(map[string]Record),
	}
}

// sweep drops every expired record. Callers hold s.mu.
func (s *MemoryStore) sweep(now time.Time) {
	for objectiveID, rec := range s.locks {
		if rec.Expired(now) {
			delete(s.locks, objectiveID)
		}
	}
}

func (s *MemoryStore) Acquire(_ context.Context, objectiveID, userID, teamMemberID string) (AcquireResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.sweep(now)

	existing, ok := s.locks[objectiveID]
	if !ok {
		rec := Record{UserID: userID, TeamMemberID: teamMemberID, ExpiresAt: now.Add(Duration)}
		s.locks[objectiveID] = rec
		return AcquireResult{Outcome: Acquired, Record: rec}, nil
	}
	if existing.TeamMemberID != teamMemberID {
		return AcquireResult{Outcome: Locked, Record: existing}, nil
	}
	existing.ExpiresAt = now.Add(Duration)
	s.locks[objectiveID] = existing
	return AcquireResult{Outcome: Renewed, Record: existing}, nil
}

func (s *MemoryStore) Release(_ context.Context, objectiveID, userID string) (ReleaseOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(s.clock.Now())

	existing, ok := s.locks[objectiveID]
	if !ok {
		return NotFound, nil
	}
	if existing.UserID != userID {
		return Forbidden, nil
	}
	delete(s.locks, objectiveID)
	return Released, nil
}

func (s *MemoryStore) Peek(_ context.Context, objectiveID, callerTeamMemberID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep(s.clock.Now())
	rec, ok := s.locks[objectiveID]
	return statusFor(rec, ok, callerTeamMemberID), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len reports how many live locks are tracked.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.clock.Now())
	return len(s.locks)
}
