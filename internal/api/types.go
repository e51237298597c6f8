package api

import (
	"time"

	"github.com/satriahrh/ditado/domain"
)

// TokenRequest represents the request payload for client authentication
type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// TokenResponse represents the response payload for client authentication
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientID  string    `json:"client_id"`
}

// SynthesizeRequest carries the text to speak
type SynthesizeRequest struct {
	Text string `json:"text"`
}

// CancelResponse reports whether a workflow was cancelled
type CancelResponse struct {
	Cancelled bool           `json:"cancelled"`
	State     domain.UIState `json:"state"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error    string      `json:"error"`
	Message  string      `json:"message,omitempty"`
	Workflow interface{} `json:"workflow,omitempty"`
}
