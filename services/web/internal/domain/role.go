package domain

import (
	"slices"
	"strings"
)

// Role is a canonical frontend role.
type Role string

// Canonical roles used for storage, comparison and routing.
const (
	RoleBuyer  Role = "buyer"
	RoleFarmer Role = "farmer"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

// Backend role vocabulary emitted by the marketplace API.
const (
	BackendRoleBuyer  = "acheteur"
	BackendRoleFarmer = "vendeur"
	BackendRoleDriver = "livreur"
	BackendRoleAdmin  = "admin"
)

// Dashboard paths per canonical role.
const (
	PathBuyerDashboard  = "/buyer/dashboard"
	PathFarmerDashboard = "/farmer/dashboard"
	PathDriverDashboard = "/driver/dashboard"
	PathAdminDashboard  = "/admin/dashboard"
)

// ValidRoles returns the set of canonical roles.
func ValidRoles() []Role {
	return []Role{RoleBuyer, RoleFarmer, RoleDriver, RoleAdmin}
}

// IsValid reports whether r is one of the canonical roles.
func (r Role) IsValid() bool {
	return slices.Contains(ValidRoles(), r)
}

// NormalizeRole maps a backend or canonical role string to a canonical Role.
// Unknown and empty values map to RoleBuyer. NormalizeRole is idempotent.
func NormalizeRole(raw string) Role {
	s := strings.ToLower(strings.TrimSpace(raw))
	if r := Role(s); r.IsValid() {
		return r
	}
	switch s {
	case BackendRoleFarmer:
		return RoleFarmer
	case BackendRoleDriver:
		return RoleDriver
	case BackendRoleAdmin:
		return RoleAdmin
	default:
		return RoleBuyer
	}
}

// BackendRole maps a registration role to the backend vocabulary. Values
// already in backend vocabulary pass through; empty and unknown values
// default to "acheteur".
func BackendRole(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(RoleFarmer), BackendRoleFarmer:
		return BackendRoleFarmer
	case string(RoleDriver), BackendRoleDriver:
		return BackendRoleDriver
	case string(RoleAdmin):
		return BackendRoleAdmin
	default:
		return BackendRoleBuyer
	}
}

// DashboardPath resolves the dashboard route for a role. Anything that is
// not farmer, driver or admin resolves to the buyer dashboard.
func DashboardPath(r Role) string {
	switch r {
	case RoleFarmer:
		return PathFarmerDashboard
	case RoleDriver:
		return PathDriverDashboard
	case RoleAdmin:
		return PathAdminDashboard
	default:
		return PathBuyerDashboard
	}
}
