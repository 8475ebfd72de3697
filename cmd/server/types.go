package main

import (
	"fmt"
	"strings"

	"github.com/himanishpuri/acousticlink/pkg/acousticlink"
)

// IdentifyURLRequest is the request body for POST /api/identify/url
type IdentifyURLRequest struct {
	URL string `json:"url"`
}

func (r *IdentifyURLRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// ListenRequest is the request body for POST /api/identify/listen.
// An empty source means the configured default.
type ListenRequest struct {
	Source string `json:"source,omitempty"`
}

// StateResponse is the response for GET /api/state
type StateResponse struct {
	acousticlink.Snapshot
	Notifications []acousticlink.Notification `json:"notifications"`
}

// ActionResponse acknowledges a user action.
type ActionResponse struct {
	Message string             `json:"message"`
	State   acousticlink.State `json:"state"`
}

// ListHistoryResponse is the response for GET /api/history
type ListHistoryResponse struct {
	Entries []acousticlink.HistoryEntry `json:"entries"`
	Count   int                         `json:"count"`
}

// DeleteHistoryResponse is the response for DELETE /api/history/{id}
type DeleteHistoryResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
