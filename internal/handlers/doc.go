// Package handlers provides HTTP request handlers for the media converter API.
//
// It includes handlers for:
//   - Conversion listing, quality options, requests and status
//   - Video upload, listing and deletion
//   - Account and folder provisioning and quota information
//   - Health checks, version and metrics
//
// Every /api route except account provisioning expects the caller's account
// id in the X-Account-ID header. Errors are rendered as
// {"success": false, "error": ..., "kind": ..., "details": ...}.
package handlers
