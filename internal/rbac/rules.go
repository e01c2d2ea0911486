package rbac

const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleJudge   = "judge"
	RoleStudent = "student"
)

// Default policy. Judges grade but cannot author rubrics or activities.
var RolePermissions = map[string][]string{
	RoleStudent: {
		"activity:view",
		"score:view-own",
		"user:change_password",
	},
	RoleJudge: {
		"rubric:view",
		"activity:view",
		"score:preview",
		"score:submit",
		"score:view-all",
		"user:change_password",
	},
	RoleTeacher: {
		"rubric:*",
		"activity:*",
		"score:preview",
		"score:submit",
		"score:view-all",
		"users:bulk_upsert",
		"users:list",
		"user:change_password",
	},
	RoleAdmin: {
		"*", // everything
	},
}

// ValidRole reports whether role is one the default policy knows.
func ValidRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}
