package handlers

import (
	"errors"
	"net/http"

	"media-converter/internal/apperror"
	"media-converter/internal/metrics"
)

// uploadMemory is how much of a multipart body is held in memory before
// spilling to a temp file.
const uploadMemory = 32 << 20

// ListVideos lists the assets of one folder with their classification.
func (h *Handlers) ListVideos(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	folder, err := folderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if folder == nil {
		writeError(w, r, apperror.Validation("folder_id is required"))
		return
	}

	views, err := h.assets.List(r.Context(), account, *folder)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"success": true, "videos": views})
}

// UploadVideo stores the multipart "video" field in a folder.
func (h *Handlers) UploadVideo(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	folder, err := folderID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if folder == nil {
		writeError(w, r, apperror.Validation("folder_id is required"))
		return
	}

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	budget := int64(uploadMemory)
	if h.memory.ShouldThrottle() {
		budget = 0
		metrics.UploadsSpooledTotal.Inc()
	}
	if err := r.ParseMultipartForm(budget); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, apperror.Validation("file exceeds the %d MB upload limit", h.maxUploadBytes/(1024*1024)))
			return
		}
		writeError(w, r, apperror.Validation("no video file provided"))
		return
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, r, apperror.Validation("no video file provided"))
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	in, err := h.assets.Stage(file, header.Filename)
	if err != nil {
		writeError(w, r, err)
		return
	}

	asset, err := h.assets.Upload(r.Context(), account, *folder, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "video uploaded",
		"video":   asset,
	})
}

// DeleteVideo deletes an asset and its remote file.
func (h *Handlers) DeleteVideo(w http.ResponseWriter, r *http.Request) {
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

	if err := h.assets.Delete(r.Context(), account, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"success": true, "message": "video deleted"})
}

// CheckVideoFile reports whether a video's file is present on its media
// server.
func (h *Handlers) CheckVideoFile(w http.ResponseWriter, r *http.Request) {
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

	fc, err := h.assets.Check(r.Context(), account, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"success": true, "file": fc})
}
