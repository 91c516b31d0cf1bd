package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/tenantguard/pkg/apperrors"
	"github.com/ekaya-inc/tenantguard/pkg/database"
	"github.com/ekaya-inc/tenantguard/pkg/models"
)

// NoteRepository defines data access for notes. Every method runs on the request's
// tenant lease; the organization filter is enforced by the store, not by these queries.
type NoteRepository interface {
	List(ctx context.Context) ([]*models.Note, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Note, error)
	Create(ctx context.Context, body string) (*models.Note, error)
	Count(ctx context.Context) (int64, error)
}

type noteRepository struct{}

// NewNoteRepository creates a new note repository.
func NewNoteRepository() NoteRepository {
	return &noteRepository{}
}

func (r *noteRepository) List(ctx context.Context) ([]*models.Note, error) {
	lease, ok := database.LeaseFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant lease in context")
	}

	query := `
		SELECT id, org_id, created_by, body, created_at
		FROM notes
		ORDER BY created_at DESC`

	rows, err := lease.Conn().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes := []*models.Note{}
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notes: %w", err)
	}

	return notes, nil
}

func (r *noteRepository) Get(ctx context.Context, id uuid.UUID) (*models.Note, error) {
	lease, ok := database.LeaseFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant lease in context")
	}

	query := `
		SELECT id, org_id, created_by, body, created_at
		FROM notes
		WHERE id = $1`

	note, err := scanNote(lease.Conn().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return note, nil
}

// Create inserts a note into the lease's organization.
func (r *noteRepository) Create(ctx context.Context, body string) (*models.Note, error) {
	lease, ok := database.LeaseFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant lease in context")
	}

	orgID, ok := lease.Context().OrgID()
	if !ok {
		return nil, fmt.Errorf("tenant lease has no organization")
	}
	var createdBy *uuid.UUID
	if userID, ok := lease.Context().UserID(); ok {
		createdBy = &userID
	}

	query := `
		INSERT INTO notes (org_id, created_by, body)
		VALUES ($1, $2, $3)
		RETURNING id, org_id, created_by, body, created_at`

	note, err := scanNote(lease.Conn().QueryRow(ctx, query, orgID, createdBy, body))
	if err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}
	return note, nil
}

func (r *noteRepository) Count(ctx context.Context) (int64, error) {
	lease, ok := database.LeaseFromContext(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant lease in context")
	}

	var n int64
	if err := lease.Conn().QueryRow(ctx, `SELECT count(*) FROM notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return n, nil
}

func scanNote(row pgx.Row) (*models.Note, error) {
	var n models.Note
	if err := row.Scan(&n.ID, &n.OrgID, &n.CreatedBy, &n.Body, &n.CreatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}
