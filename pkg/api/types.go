package api

import "time"

// Role is the coarse role attached to a principal.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is one of the enumerated values.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Principal is a uniquely identified account in the system. The identity
// is immutable once created; the role may change; principals are
// deactivated rather than deleted.
type Principal struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name,omitempty"`
	Role         Role      `json:"role"`
	Active       bool      `json:"active"`
	MFAEnabled   bool      `json:"mfa_enabled"`
	MFASecret    string    `json:"-"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Permission names a delegable permission type.
type Permission string

const (
	PermissionDiary    Permission = "diary"
	PermissionCheckin  Permission = "checkin"
	PermissionReports  Permission = "reports"
	PermissionFoodList Permission = "food_list"
	PermissionCalorie  Permission = "calorie"
)

// BaselinePermissions are the permission types any one of which
// authorizes acting on behalf of another principal for standard
// personal data. Route-level gates narrow this further.
var BaselinePermissions = []Permission{PermissionDiary, PermissionCheckin, PermissionReports}

// APIKeyPermissionHealthWrite is the API-key permission required by the
// health-data ingestion endpoint. API-key permissions are independent of
// delegation permissions.
const APIKeyPermissionHealthWrite = "health_data_write"
