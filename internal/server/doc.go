// Package server provides the HTTP monitoring surface: health, pipeline
// status, sanitized configuration, recent detections and Prometheus metrics.
package server
