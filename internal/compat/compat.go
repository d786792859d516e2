package compat

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// CanonicalContainer is the only container the streaming engine plays as-is.
	CanonicalContainer = "mp4"
	// CanonicalCodec is the video codec produced by conversions.
	CanonicalCodec = "h264"
)

// ReasonKind enumerates why an asset is not playable as-is.
type ReasonKind string

const (
	ReasonContainerNotNormalized ReasonKind = "container_not_normalized"
	ReasonBitrateExceedsLimit    ReasonKind = "bitrate_exceeds_limit"
)

// Reason is a single incompatibility. LimitKbps is set for bitrate reasons.
type Reason struct {
	Kind      ReasonKind `json:"kind"`
	LimitKbps int        `json:"limit_kbps,omitempty"`
}

// String renders the reason as shown to users.
func (r Reason) String() string {
	switch r.Kind {
	case ReasonContainerNotNormalized:
		return "container is not normalized format"
	case ReasonBitrateExceedsLimit:
		return fmt.Sprintf("bitrate exceeds plan limit of %d kbps", r.LimitKbps)
	default:
		return string(r.Kind)
	}
}

// Messages renders every reason in order.
func Messages(reasons []Reason) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = r.String()
	}
	return out
}

// Result is the outcome of Classify.
type Result struct {
	Compatible      bool
	NeedsConversion bool
	Reasons         []Reason
}

// NormalizeContainer lowercases a container name or file extension and
// strips a leading dot.
func NormalizeContainer(ext string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
}

// IsNormalizedContainer reports whether ext names the canonical container.
func IsNormalizedContainer(ext string) bool {
	return NormalizeContainer(ext) == CanonicalContainer
}

// Classify decides whether an asset with the given container and bitrate can
// be played under a plan limit of limitKbps. Reasons are ordered container
// first, then bitrate. An unknown bitrate (0) is compatible but still flagged
// as needing conversion so it gets re-measured.
func Classify(container string, bitrateKbps, limitKbps int) Result {
	var reasons []Reason

	if !IsNormalizedContainer(container) {
		reasons = append(reasons, Reason{Kind: ReasonContainerNotNormalized})
	}
	if bitrateKbps > limitKbps {
		reasons = append(reasons, Reason{Kind: ReasonBitrateExceedsLimit, LimitKbps: limitKbps})
	}

	compatible := len(reasons) == 0
	return Result{
		Compatible:      compatible,
		NeedsConversion: !compatible || bitrateKbps == 0,
		Reasons:         reasons,
	}
}

// acceptedExtensions lists the video file types accepted for upload.
var acceptedExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".mkv":  true,
	".3gp":  true,
	".3g2":  true,
	".ts":   true,
	".mpg":  true,
	".mpeg": true,
	".ogv":  true,
	".m4v":  true,
	".asf":  true,
}

// IsAcceptedUpload reports whether filename has an accepted video extension.
func IsAcceptedUpload(filename string) bool {
	return acceptedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Extension returns the normalized container name implied by filename.
func Extension(filename string) string {
	return NormalizeContainer(filepath.Ext(filename))
}
