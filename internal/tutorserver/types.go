package tutorserver

import "time"

// TokenRequest represents the request payload for a client token
type TokenRequest struct {
	ClientID string `json:"client_id"`
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
}

// TokenResponse represents the response payload for a client token
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientID  string    `json:"client_id"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
