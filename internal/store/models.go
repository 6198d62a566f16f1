package store

import (
	"encoding/json"
	"time"
)

// Team roles, highest privilege first.
const (
	RoleAccountOwner   = "Account Owner"
	RoleAccountManager = "Account Manager"
	RoleProjectOwner   = "Project Owner"
	RoleObjectiveOwner = "Objective Owner"
	RoleTeamMember     = "Team Member"
)

type TeamMember struct {
	ID     string
	TeamID string
	UserID string
	Role   string
}

type Project struct {
	ID         string
	TeamID     string
	Name       string
	IsArchived bool
}

// Objective is one journey (Brainstorm / Choose / Objectives) within a project.
type Objective struct {
	ID                   string
	ProjectID            string
	Name                 string
	CurrentStep          int
	JourneyStatus        string
	BrainstormData       json.RawMessage
	ChooseData           json.RawMessage
	ObjectivesData       json.RawMessage
	TargetCompletionDate *time.Time
	ActualCompletionDate *time.Time
	IsArchived           bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewObjective is the insert payload for a fresh objective.
type NewObjective struct {
	ProjectID            string
	Name                 string
	CurrentStep          int
	JourneyStatus        string
	TargetCompletionDate *time.Time
}

type ObjectiveFilter struct {
	IncludeArchived bool
	// JourneyStatus restricts results to one status; "" or "all" matches any.
	JourneyStatus string
}

// ObjectivePatch is a partial update; nil fields are left unchanged.
type ObjectivePatch struct {
	Name           *string
	CurrentStep    *int
	JourneyStatus  *string
	BrainstormData json.RawMessage
	ChooseData     json.RawMessage
	ObjectivesData json.RawMessage
	IsArchived     *bool

	TargetCompletionDate *time.Time
	// ClearTargetCompletionDate sets the date to NULL; it wins over TargetCompletionDate.
	ClearTargetCompletionDate bool
}

func (p ObjectivePatch) Empty() bool {
	return p.Name == nil && p.CurrentStep == nil && p.JourneyStatus == nil &&
		p.BrainstormData == nil && p.ChooseData == nil && p.ObjectivesData == nil &&
		p.IsArchived == nil && p.TargetCompletionDate == nil && !p.ClearTargetCompletionDate
}
