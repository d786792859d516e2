// Package database provides the SQLite catalog for the media converter.
//
// It stores:
//   - Accounts and their bitrate ceilings
//   - Buckets (folders) with their storage allotment and usage
//   - Assets, both uploaded originals and conversion results
//   - Playlists referencing assets
//   - Conversion jobs, at most one in progress per source asset
//
// The schema is managed by goose migrations embedded in the binary. The
// database runs in WAL mode and every write goes through a single
// transaction helper so usage counters and job state stay consistent.
package database
