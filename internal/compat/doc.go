// Package compat classifies whether a stored video can be streamed as-is.
//
// An asset is compatible when its container is the canonical mp4 and its
// bitrate does not exceed the owning account's plan limit. Classification is
// a pure function of (container, bitrate, limit); reasons are returned as an
// ordered list of enumerated kinds and only rendered to text at the edges.
//
//	res := compat.Classify("mkv", 3000, 2500)
//	// res.Compatible == false
//	// res.Reasons == [container_not_normalized, bitrate_exceeds_limit(2500)]
package compat
