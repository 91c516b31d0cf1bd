package models

import (
	"time"

	"github.com/google/uuid"
)

// Note is a tenant-owned record. Row-level security limits every read and write
// to the organization bound to the connection.
type Note struct {
	ID        uuid.UUID  `json:"id"`
	OrgID     uuid.UUID  `json:"org_id"`
	CreatedBy *uuid.UUID `json:"created_by,omitempty"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"created_at"`
}
