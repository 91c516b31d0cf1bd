package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRole_Hierarchy(t *testing.T) {
	assert.Greater(t, RoleManager.Level(), RoleOwner.Level())
	assert.Greater(t, RoleSuperAdmin.Level(), RoleManager.Level())
	assert.Less(t, RoleGuest.Level(), RoleResident.Level())
	assert.True(t, RoleOrgAdmin.AtLeast(RoleManager))
	assert.False(t, RoleTenant.AtLeast(RoleOwner))
}

func TestRole_Classification(t *testing.T) {
	assert.True(t, RoleOrgAdmin.IsAdmin())
	assert.False(t, RoleManager.IsAdmin())
	assert.True(t, RoleTechnicalManager.IsManager())
	assert.False(t, RoleOwner.IsManager())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Org_Admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleOrgAdmin, r)

	_, err = ParseRole("janitor")
	assert.Error(t, err)
}

func TestHighestRole(t *testing.T) {
	assert.Equal(t, RoleManager, HighestRole([]string{"resident", "manager", "bogus"}))
	assert.Equal(t, RoleGuest, HighestRole(nil))
	assert.Equal(t, RolePlatformAdmin, HighestRole([]string{"platform_admin", "org_admin"}))
}
