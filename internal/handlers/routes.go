package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"media-converter/internal/middleware"
)

// NewRouter registers every API route on a new router.
func NewRouter(h *Handlers) *mux.Router {
	r := mux.NewRouter()

	// Health check and version routes (no account required)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	// Provisioning, called by the upstream identity service
	r.HandleFunc("/api/accounts", h.CreateAccount).Methods(http.MethodPost)
	r.HandleFunc("/api/accounts/{id}", h.UpdateAccount).Methods(http.MethodPatch)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Account())

	// Conversion
	api.HandleFunc("/conversion/videos", h.ListConvertibleVideos).Methods(http.MethodGet)
	api.HandleFunc("/conversion/qualities", h.GetQualities).Methods(http.MethodGet)
	api.HandleFunc("/conversion/convert", h.Convert).Methods(http.MethodPost)
	api.HandleFunc("/conversion/status/{id}", h.GetConversionStatus).Methods(http.MethodGet)
	api.HandleFunc("/conversion/jobs/{job_id}", h.GetJob).Methods(http.MethodGet)
	api.HandleFunc("/conversion/{id}", h.RemoveConvertedVideo).Methods(http.MethodDelete)

	// Videos
	api.HandleFunc("/videos", h.ListVideos).Methods(http.MethodGet)
	api.HandleFunc("/videos/upload", h.UploadVideo).Methods(http.MethodPost)
	api.HandleFunc("/videos/{id}", h.DeleteVideo).Methods(http.MethodDelete)
	api.HandleFunc("/videos/{id}/file", h.CheckVideoFile).Methods(http.MethodGet)

	// Folders
	api.HandleFunc("/buckets", h.ListBuckets).Methods(http.MethodGet)
	api.HandleFunc("/buckets", h.CreateBucket).Methods(http.MethodPost)
	api.HandleFunc("/buckets/{id}/quota", h.GetBucketQuota).Methods(http.MethodGet)

	return r
}
