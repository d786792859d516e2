// Package middleware provides HTTP middleware for the media converter API.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics keyed by route template
//   - Account resolution from the X-Account-ID header
package middleware
