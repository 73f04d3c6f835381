// Package rbac decides which branch operations a role may perform.
package rbac

type Role string
type Action string

const (
	RoleViewer     Role = "viewer"
	RoleAuthor     Role = "author"
	RoleMaintainer Role = "maintainer"
	RoleAdmin      Role = "admin"
)

const (
	// ActionRead covers branch, revision, comparison, search and export reads.
	ActionRead Action = "read"
	// ActionCommit covers creating branches and revisions and editing descriptions.
	ActionCommit  Action = "commit"
	ActionMerge   Action = "merge"
	ActionArchive Action = "archive"
	ActionDelete  Action = "delete"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMaintainer:
		return action != ActionDelete
	case RoleAuthor:
		return action == ActionRead || action == ActionCommit
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown roles to viewer.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleAuthor, RoleMaintainer, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
