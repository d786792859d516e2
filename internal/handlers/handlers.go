package handlers

import (
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"media-converter/internal/assets"
	"media-converter/internal/conversion"
	"media-converter/internal/database"
	"media-converter/internal/memory"
	"media-converter/internal/startup"
)

// Defaults applied when provisioning accounts and buckets.
type Defaults struct {
	BitrateLimitKbps int
	StorageMB        int64
	ServerID         int64
}

// Handlers serves the HTTP API.
type Handlers struct {
	db             *database.Database
	converter      *conversion.Orchestrator
	assets         *assets.Service
	validate       *validator.Validate
	defaults       Defaults
	servers        map[int64]string
	maxUploadBytes int64
	memory         *memory.Monitor
	startTime      time.Time
}

// New creates the API handlers.
func New(db *database.Database, converter *conversion.Orchestrator, svc *assets.Service, config *startup.Config) *Handlers {
	return &Handlers{
		db:        db,
		converter: converter,
		assets:    svc,
		validate:  newValidator(),
		defaults: Defaults{
			BitrateLimitKbps: config.DefaultBitrateLimit,
			StorageMB:        config.DefaultStorageMB,
			ServerID:         config.DefaultServerID,
		},
		servers:        config.ServerAddrs,
		maxUploadBytes: config.MaxUploadMB * 1024 * 1024,
		startTime:      time.Now(),
	}
}

// SetMemoryMonitor lets uploads spool to disk while memory is under pressure.
func (h *Handlers) SetMemoryMonitor(m *memory.Monitor) {
	h.memory = m
}

// pathSegment matches names that become a single directory on the media
// server.
var pathSegment = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("pathsegment", func(fl validator.FieldLevel) bool {
		return pathSegment.MatchString(fl.Field().String())
	})
	return v
}
