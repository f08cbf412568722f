// Package server implements the HTTP surface of the deployhook webhook
// receiver.
//
// This package provides:
//   - POST /webhook: GitHub push webhooks verified with HMAC-SHA256
//   - GET /health: liveness probe
//   - GET /status: in-flight run plus recent history
//   - GET /metrics: Prometheus exposition
//
// Accepted pushes to main are handed to a deployment.Dispatcher, which
// answers immediately; the run itself happens on the dispatcher's worker.
// A request with a bad signature never reaches the parser or the
// dispatcher and leaves no trace in the deployment log.
package server
