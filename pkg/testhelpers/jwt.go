// Package testhelpers provides utilities for testing tenantguard components.
package testhelpers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// GenerateTestJWT creates an unsigned token (alg: none) for use when verification
// is disabled. orgID and roles are omitted from the payload when empty.
func GenerateTestJWT(sub, orgID string, roles ...string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	claims := map[string]any{"sub": sub}
	if orgID != "" {
		claims["org"] = orgID
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	payload, _ := json.Marshal(claims)

	encodedPayload := base64.RawURLEncoding.EncodeToString(payload)
	return fmt.Sprintf("%s.%s.", header, encodedPayload)
}

// GenerateTestJWTWithBearer returns token with "Bearer " prefix for Authorization header.
func GenerateTestJWTWithBearer(sub, orgID string, roles ...string) string {
	return "Bearer " + GenerateTestJWT(sub, orgID, roles...)
}
