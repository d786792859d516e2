package handlers

import (
	"errors"
	"net/http"

	"media-converter/internal/apperror"
	"media-converter/internal/database"
)

// CreateAccountRequest is the body of POST /api/accounts.
type CreateAccountRequest struct {
	Login        string `json:"login" validate:"required,max=64,pathsegment"`
	BitrateLimit int    `json:"bitrate_limit" validate:"omitempty,gt=0"`
}

// UpdateAccountRequest is the body of PATCH /api/accounts/{id}.
type UpdateAccountRequest struct {
	BitrateLimit int `json:"bitrate_limit" validate:"required,gt=0"`
}

// CreateBucketRequest is the body of POST /api/buckets.
type CreateBucketRequest struct {
	Name       string `json:"name" validate:"required,max=128,pathsegment"`
	AllottedMB int64  `json:"allotted_mb" validate:"omitempty,gt=0"`
	ServerID   int64  `json:"server_id" validate:"omitempty,gt=0"`
}

// CreateAccount provisions an account. Identity is managed upstream; this
// only records the login and its bitrate ceiling.
func (h *Handlers) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.BitrateLimit == 0 {
		req.BitrateLimit = h.defaults.BitrateLimitKbps
	}

	acct, err := h.db.CreateAccount(r.Context(), req.Login, req.BitrateLimit)
	if err != nil {
		writeError(w, r, catalogError(err, "login %q is taken", req.Login))
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{"success": true, "account": acct})
}

// UpdateAccount changes an account's bitrate ceiling after a plan change.
func (h *Handlers) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req UpdateAccountRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.db.SetBitrateLimit(r.Context(), id, req.BitrateLimit); err != nil {
		writeError(w, r, catalogError(err, "account not found"))
		return
	}
	acct, err := h.db.GetAccount(r.Context(), id)
	if err != nil {
		writeError(w, r, catalogError(err, "account not found"))
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"success": true, "account": acct})
}

// ListBuckets returns the caller's buckets.
func (h *Handlers) ListBuckets(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	buckets, err := h.db.ListBuckets(r.Context(), account)
	if err != nil {
		writeError(w, r, apperror.Internal(err, "failed to list folders"))
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"success": true, "folders": buckets})
}

// CreateBucket creates a bucket for the caller on a configured media server.
func (h *Handlers) CreateBucket(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req CreateBucketRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.AllottedMB == 0 {
		req.AllottedMB = h.defaults.StorageMB
	}
	if req.ServerID == 0 {
		req.ServerID = h.defaults.ServerID
	}
	if _, ok := h.servers[req.ServerID]; !ok {
		writeError(w, r, apperror.Validation("unknown server %d", req.ServerID))
		return
	}

	if _, err := h.db.GetAccount(r.Context(), account); err != nil {
		writeError(w, r, catalogError(err, "account not found"))
		return
	}

	bucket, err := h.db.CreateBucket(r.Context(), account, req.Name, req.AllottedMB, req.ServerID)
	if err != nil {
		writeError(w, r, catalogError(err, "folder %q already exists", req.Name))
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{"success": true, "folder": bucket})
}

// GetBucketQuota reports used and available space of one bucket.
func (h *Handlers) GetBucketQuota(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	info, err := h.assets.Quota(r.Context(), account, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"success": true, "quota": info})
}

// catalogError maps duplicate and missing rows to client errors.
func catalogError(err error, format string, args ...any) error {
	switch {
	case errors.Is(err, database.ErrDuplicate):
		return apperror.Conflict(format, args...)
	case errors.Is(err, database.ErrNotFound):
		return apperror.NotFound(format, args...)
	default:
		return apperror.Internal(err, "catalog error")
	}
}
