package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"arrowhead/api/internal/clock"
	"arrowhead/api/internal/lock"
	"arrowhead/api/internal/rbac"
	"arrowhead/api/internal/store"
)

// Caller is the authenticated user behind a request.
type Caller struct {
	UserID string
	Email  string
	Role   string
}

// Directory is the read/write surface over teams, projects and objectives.
// Lookups report absence with sql.ErrNoRows.
type Directory interface {
	GetObjective(ctx context.Context, objectiveID string) (store.Objective, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	FindMembership(ctx context.Context, userID, teamID string) (store.TeamMember, error)
	ListObjectives(ctx context.Context, projectID string, filter store.ObjectiveFilter) ([]store.Objective, error)
	UpdateObjective(ctx context.Context, objectiveID string, patch store.ObjectivePatch) (store.Objective, error)
	CreateObjective(ctx context.Context, in store.NewObjective) (store.Objective, error)
	Ping(ctx context.Context) error
}

type ObjectiveView struct {
	Objective store.Objective
	Lock      lock.Status
}

type Service struct {
	dir    Directory
	locks  lock.Store
	clock  clock.Clock
	logger *slog.Logger
}

func New(dir Directory, locks lock.Store, clk clock.Clock, logger *slog.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{dir: dir, locks: locks, clock: clk, logger: logger}
}

type access struct {
	objective store.Objective
	project   store.Project
	member    store.TeamMember
}

// authorize resolves objective, project and the caller's membership in the
// project's team, in that order.
func (s *Service) authorize(ctx context.Context, caller Caller, objectiveID, denied string) (access, error) {
	objective, err := s.dir.GetObjective(ctx, objectiveID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return access{}, notFoundError("Objective not found")
		}
		return access{}, upstreamError("Failed to load objective", err)
	}
	project, member, err := s.projectMembership(ctx, caller, objective.ProjectID, denied)
	if err != nil {
		return access{}, err
	}
	return access{objective: objective, project: project, member: member}, nil
}

func (s *Service) projectMembership(ctx context.Context, caller Caller, projectID, denied string) (store.Project, store.TeamMember, error) {
	project, err := s.dir.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Project{}, store.TeamMember{}, notFoundError("Project not found")
		}
		return store.Project{}, store.TeamMember{}, upstreamError("Failed to load project", err)
	}
	member, err := s.dir.FindMembership(ctx, caller.UserID, project.TeamID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Project{}, store.TeamMember{}, authorizationError(denied)
		}
		return store.Project{}, store.TeamMember{}, upstreamError("Failed to load team membership", err)
	}
	return project, member, nil
}

func requireID(value, name string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", badRequestError(name + " is required")
	}
	return value, nil
}

func (s *Service) Resume(ctx context.Context, caller Caller, objectiveID string) (ObjectiveView, error) {
	objectiveID, err := requireID(objectiveID, "Objective ID")
	if err != nil {
		return ObjectiveView{}, err
	}
	acc, err := s.authorize(ctx, caller, objectiveID, "You do not have access to this objective")
	if err != nil {
		return ObjectiveView{}, err
	}
	status, err := s.locks.Peek(ctx, objectiveID, acc.member.ID)
	if err != nil {
		return ObjectiveView{}, upstreamError("Failed to read lock status", err)
	}
	return ObjectiveView{Objective: acc.objective, Lock: status}, nil
}

func (s *Service) AcquireLock(ctx context.Context, caller Caller, objectiveID string) (lock.AcquireResult, error) {
	objectiveID, err := requireID(objectiveID, "Objective ID")
	if err != nil {
		return lock.AcquireResult{}, err
	}
	acc, err := s.authorize(ctx, caller, objectiveID, "You can only edit objectives in your own team")
	if err != nil {
		return lock.AcquireResult{}, err
	}
	result, err := s.locks.Acquire(ctx, objectiveID, caller.UserID, acc.member.ID)
	if err != nil {
		return lock.AcquireResult{}, upstreamError("Failed to acquire lock", err)
	}
	if result.Outcome == lock.Locked {
		s.logger.InfoContext(ctx, "objective lock contended",
			"objective_id", objectiveID,
			"requested_by", caller.UserID,
			"holder_team_member_id", result.Record.TeamMemberID,
			"expires", humanize.RelTime(s.clock.Now(), result.Record.ExpiresAt, "ago", "from now"),
		)
		return result, conflictError(result.Record.ExpiresAt)
	}
	return result, nil
}

func (s *Service) ReleaseLock(ctx context.Context, caller Caller, objectiveID string) error {
	objectiveID, err := requireID(objectiveID, "Objective ID")
	if err != nil {
		return err
	}
	outcome, err := s.locks.Release(ctx, objectiveID, caller.UserID)
	if err != nil {
		return upstreamError("Failed to release lock", err)
	}
	switch outcome {
	case lock.Released:
		return nil
	case lock.NotFound:
		return notFoundError("No active lock for this objective")
	default:
		return authorizationError("You can only release your own lock")
	}
}

var journeyStatuses = map[string]bool{"draft": true, "complete": true}

func (s *Service) ListObjectives(ctx context.Context, caller Caller, projectID string, filter store.ObjectiveFilter) ([]ObjectiveView, error) {
	projectID, err := requireID(projectID, "Project ID")
	if err != nil {
		return nil, err
	}
	if filter.JourneyStatus == "" {
		filter.JourneyStatus = "all"
	}
	if filter.JourneyStatus != "all" && !journeyStatuses[filter.JourneyStatus] {
		return nil, badRequestError("journey_status must be one of draft, complete, all")
	}
	_, member, err := s.projectMembership(ctx, caller, projectID, "You do not have access to this project")
	if err != nil {
		return nil, err
	}
	objectives, err := s.dir.ListObjectives(ctx, projectID, filter)
	if err != nil {
		return nil, upstreamError("Failed to load objectives", err)
	}
	views := make([]ObjectiveView, 0, len(objectives))
	for _, objective := range objectives {
		status, err := s.locks.Peek(ctx, objective.ID, member.ID)
		if err != nil {
			return nil, upstreamError("Failed to read lock status", err)
		}
		views = append(views, ObjectiveView{Objective: objective, Lock: status})
	}
	return views, nil
}

// UpdateObjective requires edit_objective and refuses to write while another
// team member holds a live lock.
func (s *Service) UpdateObjective(ctx context.Context, caller Caller, objectiveID string, patch store.ObjectivePatch) (store.Objective, error) {
	objectiveID, err := requireID(objectiveID, "Objective ID")
	if err != nil {
		return store.Objective{}, err
	}
	if err := validatePatch(patch); err != nil {
		return store.Objective{}, err
	}
	acc, err := s.authorize(ctx, caller, objectiveID, "You can only edit objectives in your own team")
	if err != nil {
		return store.Objective{}, err
	}
	if !rbac.Can(rbac.Normalize(acc.member.Role), rbac.ActionEditObjective) {
		return store.Objective{}, authorizationError("Insufficient permissions to edit objectives")
	}
	status, err := s.locks.Peek(ctx, objectiveID, acc.member.ID)
	if err != nil {
		return store.Objective{}, upstreamError("Failed to read lock status", err)
	}
	if status.LockedByOther && status.ExpiresAt != nil {
		return store.Objective{}, conflictError(*status.ExpiresAt)
	}
	updated, err := s.dir.UpdateObjective(ctx, objectiveID, patch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Objective{}, notFoundError("Objective not found")
		}
		return store.Objective{}, upstreamError("Failed to update objective", err)
	}
	return updated, nil
}

// Journeys that skip Brainstorm open on the first Objectives step.
const (
	brainstormStartStep = 1
	objectivesStartStep = 11
)

type CreateObjectiveInput struct {
	Name                 string
	StartWithBrainstorm  bool
	TargetCompletionDate *time.Time
}

// CreateObjective adds a draft objective to projectID. The caller must be a
// member of the project's team holding create_objective.
func (s *Service) CreateObjective(ctx context.Context, caller Caller, projectID string, in CreateObjectiveInput) (store.Objective, error) {
	projectID, err := requireID(projectID, "Project ID")
	if err != nil {
		return store.Objective{}, err
	}
	_, member, err := s.projectMembership(ctx, caller, projectID, "You can only create objectives in your own team")
	if err != nil {
		return store.Objective{}, err
	}
	if !rbac.Can(rbac.Normalize(member.Role), rbac.ActionCreateObjective) {
		return store.Objective{}, authorizationError("Insufficient permissions to create objectives")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return store.Objective{}, badRequestError("'name' is required")
	}
	step := objectivesStartStep
	if in.StartWithBrainstorm {
		step = brainstormStartStep
	}
	created, err := s.dir.CreateObjective(ctx, store.NewObjective{
		ProjectID:            projectID,
		Name:                 name,
		CurrentStep:          step,
		JourneyStatus:        "draft",
		TargetCompletionDate: in.TargetCompletionDate,
	})
	if err != nil {
		return store.Objective{}, upstreamError("Failed to create objective", err)
	}
	s.logger.InfoContext(ctx, "objective created",
		"objective_id", created.ID,
		"project_id", projectID,
		"created_by", caller.UserID,
		"current_step", step,
	)
	return created, nil
}

func validatePatch(patch store.ObjectivePatch) error {
	if patch.Empty() {
		return badRequestError("No fields to update")
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return badRequestError("name must not be empty")
	}
	if patch.CurrentStep != nil && *patch.CurrentStep < 1 {
		return badRequestError("current_step must be a positive integer")
	}
	if patch.JourneyStatus != nil && !journeyStatuses[*patch.JourneyStatus] {
		return badRequestError("journey_status must be draft or complete")
	}
	return nil
}

// Checks pings the directory and the lock backend with a shared deadline.
func (s *Service) Checks(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return map[string]error{
		"database": s.dir.Ping(ctx),
		"locks":    s.locks.Ping(ctx),
	}
}
