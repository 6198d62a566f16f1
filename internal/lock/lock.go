// Package lock provides advisory, time-bounded edit locks on objectives.
//
// At most one live Record exists per objective. The holder may renew
// indefinitely; any other caller is turned away until the holder releases
// or the record expires. There is no queueing and no release notification.
// Locks are advisory: writes that bypass the HTTP layer are not guarded.
package lock

import (
	"context"
	"time"
)

// Duration is the fixed lifetime granted by every acquire or renewal.
const Duration = 5 * time.Minute

// Record is the exclusive edit grant for one objective.
type Record struct {
	UserID       string
	TeamMemberID string
	ExpiresAt    time.Time
}

// Expired reports whether the record is no longer live at now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

type Outcome int

const (
	Acquired Outcome = iota + 1
	Renewed
	Locked
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case Renewed:
		return "renewed"
	case Locked:
		return "locked"
	default:
		return "unknown"
	}
}

// AcquireResult carries the record after the call. For Locked it is the
// untouched record of the current holder.
type AcquireResult struct {
	Outcome Outcome
	Record  Record
}

type ReleaseOutcome int

const (
	Released ReleaseOutcome = iota + 1
	NotFound
	Forbidden
)

func (o ReleaseOutcome) String() string {
	switch o {
	case Released:
		return "released"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Status is the read-only view reported to a caller.
type Status struct {
	LockedByOther  bool
	LockedByCaller bool
	ExpiresAt      *time.Time
}

// Store is the single lock authority shared by every handler. Errors are
// reserved for backend failures; contention is reported through outcomes.
type Store interface {
	Acquire(ctx context.Context, objectiveID, userID, teamMemberID string) (AcquireResult, error)
	Release(ctx context.Context, objectiveID, userID string) (ReleaseOutcome, error)
	Peek(ctx context.Context, objectiveID, callerTeamMemberID string) (Status, error)
	Ping(ctx context.Context) error
}

func statusFor(rec Record, found bool, callerTeamMemberID string) Status {
	if !found {
		return Status{}
	}
	expires := rec.ExpiresAt
	return Status{
		LockedByOther:  rec.TeamMemberID != callerTeamMemberID,
		LockedByCaller: rec.TeamMemberID == callerTeamMemberID,
		ExpiresAt:      &expires,
	}
}
