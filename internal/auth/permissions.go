package auth

// Resources.
const (
	ResourceContent = "Content"
	ResourceRole    = "Role"
	ResourceUser    = "User"
	ResourceAudit   = "Audit"
)

// Actions.
const (
	ActionCreate  = "Create"
	ActionRead    = "Read"
	ActionUpdate  = "Update"
	ActionDelete  = "Delete"
	ActionPublish = "Publish"
)

// BuiltinPermissions is the permission catalogue every installation starts with.
var BuiltinPermissions = []Permission{
	{Name: "content.create", Resource: ResourceContent, Action: ActionCreate, Description: "Create content"},
	{Name: "content.read", Resource: ResourceContent, Action: ActionRead, Description: "Read content"},
	{Name: "content.update", Resource: ResourceContent, Action: ActionUpdate, Description: "Edit any content"},
	{Name: "content.delete", Resource: ResourceContent, Action: ActionDelete, Description: "Delete any content"},
	{Name: "content.publish", Resource: ResourceContent, Action: ActionPublish, Description: "Publish or unpublish any content"},
	{Name: "role.create", Resource: ResourceRole, Action: ActionCreate, Description: "Create roles and permissions"},
	{Name: "role.read", Resource: ResourceRole, Action: ActionRead, Description: "List roles and permissions"},
	{Name: "role.update", Resource: ResourceRole, Action: ActionUpdate, Description: "Assign roles and grants"},
	{Name: "role.delete", Resource: ResourceRole, Action: ActionDelete, Description: "Delete roles"},
	{Name: "user.read", Resource: ResourceUser, Action: ActionRead, Description: "Read user records and PII"},
	{Name: "user.update", Resource: ResourceUser, Action: ActionUpdate, Description: "Deactivate users"},
	{Name: "audit.read", Resource: ResourceAudit, Action: ActionRead, Description: "Read the audit trail"},
}

// BuiltinRole names a seeded role and the permission keys it holds.
type BuiltinRole struct {
	Name        string
	Description string
	Permissions []string
}

// BuiltinRoles are seeded alongside BuiltinPermissions.
var BuiltinRoles = []BuiltinRole{
	{
		Name:        "Admin",
		Description: "Full administrative access",
		Permissions: allPermissionKeys(),
	},
	{
		Name:        "Editor",
		Description: "Manages and publishes all content",
		Permissions: []string{"Content:Create", "Content:Read", "Content:Update", "Content:Delete", "Content:Publish", "User:Read"},
	},
	{
		Name:        "Author",
		Description: "Writes own content",
		Permissions: []string{"Content:Create", "Content:Read"},
	},
	{
		Name:        "Viewer",
		Description: "Read-only access",
		Permissions: []string{"Content:Read"},
	},
}

func allPermissionKeys() []string {
	keys := make([]string, 0, len(BuiltinPermissions))
	for _, p := range BuiltinPermissions {
		keys = append(keys, p.Key())
	}
	return keys
}
