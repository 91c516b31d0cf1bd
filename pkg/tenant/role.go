package tenant

import (
	"fmt"
	"strings"
)

// Role is a user's role within an organization.
type Role string

const (
	RoleSuperAdmin       Role = "super_admin"
	RolePlatformAdmin    Role = "platform_admin"
	RoleOrgAdmin         Role = "org_admin"
	RoleManager          Role = "manager"
	RoleTechnicalManager Role = "technical_manager"
	RoleOwner            Role = "owner"
	RoleOwnerDelegate    Role = "owner_delegate"
	RolePropertyManager  Role = "property_manager"
	RoleRealEstateAgent  Role = "real_estate_agent"
	RoleTenant           Role = "tenant"
	RoleResident         Role = "resident"
	RoleGuest            Role = "guest"
)

// roleLevels orders roles by privilege; higher means more permissions.
var roleLevels = map[Role]int{
	RoleSuperAdmin:       100,
	RolePlatformAdmin:    95,
	RoleOrgAdmin:         90,
	RoleManager:          80,
	RoleTechnicalManager: 75,
	RoleOwner:            60,
	RoleOwnerDelegate:    55,
	RolePropertyManager:  50,
	RoleRealEstateAgent:  45,
	RoleTenant:           40,
	RoleResident:         30,
	RoleGuest:            10,
}

// ParseRole parses a role name. Matching is case-insensitive.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleLevels[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// HighestRole returns the most privileged known role in names.
// Unknown names are ignored. Returns RoleGuest if none are known.
func HighestRole(names []string) Role {
	best := RoleGuest
	for _, name := range names {
		r, err := ParseRole(name)
		if err != nil {
			continue
		}
		if r.Level() > best.Level() {
			best = r
		}
	}
	return best
}

// Level returns the role's position in the hierarchy. Unknown roles are 0.
func (r Role) Level() int {
	return roleLevels[r]
}

// AtLeast reports whether r is at least as privileged as required.
func (r Role) AtLeast(required Role) bool {
	return r.Level() >= required.Level()
}

// IsAdmin reports whether the role is administrative.
func (r Role) IsAdmin() bool {
	switch r {
	case RoleSuperAdmin, RolePlatformAdmin, RoleOrgAdmin:
		return true
	}
	return false
}

// IsManager reports whether the role has manager-level access.
func (r Role) IsManager() bool {
	return r.IsAdmin() || r == RoleManager || r == RoleTechnicalManager
}

// BypassesRowSecurity reports whether the role sees rows across all tenants.
func (r Role) BypassesRowSecurity() bool {
	return r == RoleSuperAdmin || r == RolePlatformAdmin
}

func (r Role) String() string {
	return string(r)
}
