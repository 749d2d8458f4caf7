package domain

// AuthContext contains the authenticated principal for request context.
// Sessions are issued by the main product; this service only verifies them.
type AuthContext struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// TokenClaims represents the session JWT payload
type TokenClaims struct {
	UserID    string `json:"sub"`
	Email     string `json:"email,omitempty"`
	SessionID string `json:"sid,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}
