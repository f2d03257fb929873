// Package server implements the optional local status HTTP server.
// It exposes the supervisor snapshot, quiz API client statistics, the
// sanitized configuration and Prometheus metrics while a game is running.
package server
