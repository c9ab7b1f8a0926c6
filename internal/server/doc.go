// Package server exposes the reminder session over HTTP: JSON endpoints to start,
// drive and tear down the conversation, a WebSocket stream of notifications, and
// the health, config, stats and Prometheus metrics endpoints.
package server
