// Package server implements the HTTP server for the shipbox webhook
// receiver.
//
// This package provides:
//   - GitHub push-webhook endpoint handling with HMAC signature verification
//   - Per-IP rate limiting
//   - Health and status endpoints for monitoring
//   - Structured logging of all HTTP requests
//
// A verified push to a target's branch triggers a deployment run over SSH
// through internal/deploy; runs are recorded in internal/history. Per-target
// locking rejects a webhook while a run for the same target is in flight.
package server
