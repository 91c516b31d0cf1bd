package testhelpers

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ekaya-inc/tenantguard/pkg/tenant"
)

// SeedOrganization inserts an organization as the owner and removes it, with
// everything that references it, when the test ends.
func (db *TestDB) SeedOrganization(t *testing.T, name string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	id := uuid.New()
	if _, err := db.Owner.Exec(ctx, `INSERT INTO organizations (id, name) VALUES ($1, $2)`, id, name); err != nil {
		t.Fatalf("failed to seed organization: %v", err)
	}
	t.Cleanup(func() {
		if _, err := db.Owner.Exec(context.Background(), `DELETE FROM organizations WHERE id = $1`, id); err != nil {
			t.Errorf("failed to clean up organization %s: %v", id, err)
		}
	})
	return id
}

// SeedMember adds a user to an organization.
func (db *TestDB) SeedMember(t *testing.T, orgID, userID uuid.UUID, role tenant.Role) {
	t.Helper()
	_, err := db.Owner.Exec(context.Background(),
		`INSERT INTO organization_members (org_id, user_id, role) VALUES ($1, $2, $3)`,
		orgID, userID, string(role))
	if err != nil {
		t.Fatalf("failed to seed member: %v", err)
	}
}

// SeedNote inserts a note bypassing row-level security.
func (db *TestDB) SeedNote(t *testing.T, orgID uuid.UUID, body string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	err := db.Owner.QueryRow(context.Background(),
		`INSERT INTO notes (org_id, body) VALUES ($1, $2) RETURNING id`, orgID, body).Scan(&id)
	if err != nil {
		t.Fatalf("failed to seed note: %v", err)
	}
	return id
}
