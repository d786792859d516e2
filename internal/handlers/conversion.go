package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"media-converter/internal/conversion"
)

// ConvertRequest is the body of POST /api/conversion/convert.
type ConvertRequest struct {
	VideoID          int64  `json:"video_id" validate:"required,gt=0"`
	Quality          string `json:"quality" validate:"omitempty,max=32"`
	CustomBitrate    int    `json:"custom_bitrate" validate:"omitempty,gt=0"`
	CustomResolution string `json:"custom_resolution" validate:"omitempty,max=16"`
}

// ListConvertibleVideos returns the caller's original assets with their
// classification and the presets they may be converted to.
func (h *Handlers) ListConvertibleVideos(w http.ResponseWriter, r *http.Request) {
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

	views, err := h.converter.ListConvertibleAssets(r.Context(), account, folder)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"success": true, "videos": views})
}

// GetQualities lists every preset with its availability for the caller.
func (h *Handlers) GetQualities(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	opts, err := h.converter.Qualities(r.Context(), account)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{
		"success":        true,
		"qualities":      opts.Qualities,
		"custom_allowed": opts.CustomAllowed,
		"user_limit":     opts.UserLimitKbps,
	})
}

// Convert runs one conversion. It answers 202 with the job id when the
// conversion is still running after the configured wait.
func (h *Handlers) Convert(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req ConvertRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := h.converter.RequestConversion(r.Context(), account, conversion.Request{
		AssetID:           req.VideoID,
		Quality:           req.Quality,
		CustomBitrateKbps: req.CustomBitrate,
		CustomResolution:  req.CustomResolution,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "conversion completed",
		"video":   summary,
	})
}

// GetConversionStatus reports the latest conversion state of one asset.
func (h *Handlers) GetConversionStatus(w http.ResponseWriter, r *http.Request) {
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

	status, err := h.converter.GetConversionStatus(r.Context(), account, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"success": true, "status": status})
}

// GetJob returns one conversion job owned by the caller.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	job, err := h.converter.Job(r.Context(), account, mux.Vars(r)["job_id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"success": true, "job": job})
}

// RemoveConvertedVideo deletes a converted asset and its remote file.
func (h *Handlers) RemoveConvertedVideo(w http.ResponseWriter, r *http.Request) {
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

	if err := h.converter.RemoveConvertedAsset(r.Context(), account, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]any{"success": true, "message": "converted video removed"})
}
