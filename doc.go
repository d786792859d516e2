// Package main provides the entry point for the media converter service.
//
// The service stores customer videos on remote media servers, decides which
// of them a streaming player cannot use as-is, and converts them to H.264 in
// an MP4 container by running ffmpeg on the server that holds the file.
//
// # Application Lifecycle
//
//  1. Configuration Loading: CONFIG_FILE (YAML) and environment variables
//  2. Database Initialization: SQLite catalog with goose migrations
//  3. Component Initialization:
//     - SSH gateway to the media servers, with retries and metrics
//     - Transcoder: remote ffmpeg/ffprobe and local ffprobe for uploads
//     - Quota ledger, asset service and conversion orchestrator
//     - Reconciler for conversions whose caller stopped waiting
//     - Metrics Collector and optional Kafka event publisher
//  4. HTTP Server Setup: routes, account resolution, logging and metrics
//  5. Graceful Shutdown: SIGINT/SIGTERM stop the server, let running
//     conversions settle, then close the gateway and database
//
// # HTTP Server
//
// The application runs two HTTP servers:
//
//  1. Main Server (default port 8080): the /api routes and health checks
//  2. Metrics Server (default port 9090, optional): /metrics and /health
//
// # Related Packages
//
//   - [media-converter/internal/conversion]: conversion orchestration
//   - [media-converter/internal/assets]: upload, listing and deletion
//   - [media-converter/internal/remote]: remote execution over SSH
//   - [media-converter/internal/startup]: configuration and startup logging
package main
