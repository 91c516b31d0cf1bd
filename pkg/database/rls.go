package database

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/ekaya-inc/tenantguard/pkg/tenant"
)

// Session variables read by the row-level security policies (see migrations/).
// They are session-scoped (set_config is_local=false) so they live on the physical
// connection until overwritten.
const (
	SettingOrgID      = "app.current_org_id"
	SettingUserID     = "app.current_user_id"
	SettingSuperAdmin = "app.is_super_admin"
)

// All three variables are written by one statement so no other statement can observe
// a partially bound connection.
const bindContextSQL = `SELECT set_config('` + SettingOrgID + `', $1, false),
	set_config('` + SettingUserID + `', $2, false),
	set_config('` + SettingSuperAdmin + `', $3, false)`

// The cleared state is fail-closed: no org, no user, not super-admin.
const clearContextSQL = `SELECT set_config('` + SettingOrgID + `', '', false),
	set_config('` + SettingUserID + `', '', false),
	set_config('` + SettingSuperAdmin + `', 'false', false)`

// BindContext sets the tenant context on the given connection in a single round trip.
// The caller must own the connection exclusively. A failure poisons the connection.
func BindContext(ctx context.Context, q Querier, tc tenant.Context) error {
	orgID, _ := tc.OrgID()
	userID, _ := tc.UserID()
	_, err := q.Exec(ctx, bindContextSQL,
		settingValue(orgID),
		settingValue(userID),
		strconv.FormatBool(tc.IsSuperAdmin()))
	return err
}

// ClearContext resets the connection to the fail-closed state.
// A failure poisons the connection; callers discard it rather than retry.
func ClearContext(ctx context.Context, q Querier) error {
	_, err := q.Exec(ctx, clearContextSQL)
	return err
}

func settingValue(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
