package rbac

import "strings"

type Role string
type Action string

const (
	RoleAccountOwner   Role = "Account Owner"
	RoleAccountManager Role = "Account Manager"
	RoleProjectOwner   Role = "Project Owner"
	RoleObjectiveOwner Role = "Objective Owner"
	RoleTeamMember     Role = "Team Member"
)

const (
	ActionCreateProject   Action = "create_project"
	ActionEditProject     Action = "edit_project"
	ActionDeleteProject   Action = "delete_project"
	ActionCreateObjective Action = "create_objective"
	ActionEditObjective   Action = "edit_objective"
	ActionManageTasks     Action = "manage_tasks"
	ActionCreateTouchbase Action = "create_touchbase"
	ActionViewOtherRRGT   Action = "view_other_rrgt"
	ActionManageTeam      Action = "manage_team"
)

func Can(role Role, action Action) bool {
	switch action {
	case ActionCreateProject, ActionEditProject, ActionDeleteProject, ActionCreateObjective, ActionEditObjective:
		return role == RoleAccountOwner || role == RoleAccountManager || role == RoleProjectOwner
	case ActionManageTasks, ActionCreateTouchbase, ActionViewOtherRRGT:
		return role == RoleAccountOwner || role == RoleAccountManager || role == RoleProjectOwner || role == RoleObjectiveOwner
	case ActionManageTeam:
		return role == RoleAccountOwner || role == RoleAccountManager
	default:
		return false
	}
}

// Normalize maps a stored role onto a known Role, matching case-insensitively.
// Unknown values fall back to the least privileged role.
func Normalize(role string) Role {
	trimmed := strings.TrimSpace(role)
	for _, known := range []Role{RoleAccountOwner, RoleAccountManager, RoleProjectOwner, RoleObjectiveOwner, RoleTeamMember} {
		if strings.EqualFold(trimmed, string(known)) {
			return known
		}
	}
	return RoleTeamMember
}
