package model

// Role names carried in the "role" claim of access tokens.  Tokens are
// issued elsewhere; this service only checks them.
const (
	RoleScholar = "SCHOLAR" // publishes broadcasts
	RoleStudent = "STUDENT" // claims slots
)
