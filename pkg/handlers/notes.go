package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/tenantguard/pkg/apperrors"
	"github.com/ekaya-inc/tenantguard/pkg/auth"
	"github.com/ekaya-inc/tenantguard/pkg/repositories"
)

const maxNoteBytes = 64 << 10

// CreateNoteRequest is the body of POST /api/notes.
type CreateNoteRequest struct {
	Body string `json:"body"`
}

// NoteHandler serves tenant-scoped notes. It never filters by organization itself;
// the lease bound by the tenant middleware does.
type NoteHandler struct {
	notes  repositories.NoteRepository
	logger *zap.Logger
}

// NewNoteHandler creates a new note handler.
func NewNoteHandler(notes repositories.NoteRepository, logger *zap.Logger) *NoteHandler {
	return &NoteHandler{notes: notes, logger: logger}
}

// RegisterRoutes registers the note routes behind tenant resolution and a tenant lease.
func (h *NoteHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, tenantMiddleware TenantMiddleware) {
	mux.HandleFunc("GET /api/notes", authMiddleware.RequireTenant(tenantMiddleware(h.List)))
	mux.HandleFunc("POST /api/notes", authMiddleware.RequireTenant(tenantMiddleware(h.Create)))
	mux.HandleFunc("GET /api/notes/{nid}", authMiddleware.RequireTenant(tenantMiddleware(h.Get)))
}

// List handles GET /api/notes
func (h *NoteHandler) List(w http.ResponseWriter, r *http.Request) {
	notes, err := h.notes.List(r.Context())
	if err != nil {
		h.fail(w, "Failed to list notes", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: map[string]any{"notes": notes}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/notes/{nid}
func (h *NoteHandler) Get(w http.ResponseWriter, r *http.Request) {
	noteID, ok := ParseNoteID(w, r, h.logger)
	if !ok {
		return
	}

	note, err := h.notes.Get(r.Context(), noteID)
	if errors.Is(err, apperrors.ErrNotFound) {
		// Another tenant's note is indistinguishable from a missing one.
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Note not found"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if err != nil {
		h.fail(w, "Failed to get note", err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: note}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/notes
func (h *NoteHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateNoteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxNoteBytes)).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Note body is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	note, err := h.notes.Create(r.Context(), req.Body)
	if err != nil {
		h.fail(w, "Failed to create note", err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: note}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *NoteHandler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", msg); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
