package catalog

// Built-in group names
const (
	GroupContent  = "Content"
	GroupUsers    = "Users"
	GroupSettings = "Settings"
)

// DefaultGroups returns the built-in permission groups
func DefaultGroups() []Group {
	return []Group{
		{
			Name: GroupContent,
			Icon: "file-text",
			Permissions: []Definition{
				{ID: "posts.read", Label: "View posts", Description: "Read published and draft posts"},
				{ID: "posts.write", Label: "Edit posts", Description: "Create and edit posts"},
				{ID: "posts.publish", Label: "Publish posts", Description: "Publish and unpublish posts"},
				{ID: "posts.delete", Label: "Delete posts", Description: "Permanently delete posts"},
			},
		},
		{
			Name: GroupUsers,
			Icon: "users",
			Permissions: []Definition{
				{ID: "users.read", Label: "View users", Description: "List users and their profiles"},
				{ID: "users.invite", Label: "Invite users", Description: "Send invitations to new users"},
				{ID: "users.manage", Label: "Manage users", Description: "Edit, suspend and remove users"},
			},
		},
		{
			Name: GroupSettings,
			Icon: "settings",
			Permissions: []Definition{
				{ID: "settings.read", Label: "View settings", Description: "Read site configuration"},
				{ID: "settings.manage", Label: "Manage settings", Description: "Change site configuration", Critical: true},
			},
		},
		{
			Name: AdminGroupName,
			Icon: "shield",
			Permissions: []Definition{
				{ID: "rbac.read", Label: "View roles", Description: "List roles and their permissions"},
				{ID: "rbac.manage", Label: "Manage roles", Description: "Create, edit and delete roles", Critical: true, Administrative: true},
				{ID: "audit.read", Label: "View activity log", Description: "Read the role activity log"},
				{ID: "system.maintenance", Label: "System maintenance", Description: "Run maintenance tasks", Critical: true},
			},
		},
	}
}

// DefaultDependencies returns the built-in dependency edges
func DefaultDependencies() []Dependency {
	return []Dependency{
		{Permission: "posts.write", Requires: "posts.read", Message: "Editing posts requires viewing them"},
		{Permission: "posts.publish", Requires: "posts.write", Message: "Publishing requires editing rights"},
		{Permission: "posts.delete", Requires: "posts.write", Message: "Deleting posts requires editing rights"},
		{Permission: "users.invite", Requires: "users.read", Message: "Inviting users requires viewing them"},
		{Permission: "users.manage", Requires: "users.read", Message: "Managing users requires viewing them"},
		{Permission: "settings.manage", Requires: "settings.read", Message: "Changing settings requires viewing them"},
		{Permission: "rbac.read", Requires: "users.read", Message: "Viewing roles requires viewing users"},
		{Permission: "rbac.manage", Requires: "rbac.read", Message: "Managing roles requires viewing them"},
		{Permission: "audit.read", Requires: "rbac.read", Message: "The activity log references roles"},
		{Permission: "system.maintenance", Requires: "settings.manage", Message: "Maintenance changes settings"},
	}
}

// Default returns the built-in catalog
func Default() *Catalog {
	return MustNew(DefaultGroups(), DefaultDependencies())
}
