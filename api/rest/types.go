package rest

import "yqhp/load-harness/pkg/controlsurface"

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StopResponse is returned by POST /v1/stop.
type StopResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Status  *controlsurface.Status `json:"status"`
}
