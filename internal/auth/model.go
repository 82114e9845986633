// Package auth implements the authentication collaborator the core spec
// calls for (§6): password-grant login, signup, refresh-token rotation,
// and principal verification, backed by self-issued JWTs.
package auth

import "time"

// Role gates admin-only REST operations (§4.10).
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is the persisted account record.
type User struct {
	Username     string    `bson:"username" json:"username"`
	PasswordHash string    `bson:"password_hash" json:"-"`
	Role         Role      `bson:"role" json:"role"`
	Email        string    `bson:"email,omitempty" json:"email,omitempty"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
}

// RefreshToken is a persisted, revocable bearer of re-authentication,
// per §3's RefreshToken entity: "revocation is one-way."
type RefreshToken struct {
	UserID    string    `bson:"user_id" json:"user_id"`
	Token     string    `bson:"token" json:"token"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
	IsRevoked bool      `bson:"is_revoked" json:"is_revoked"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Principal is the verified identity a caller presents to the rest of
// the system, the return type of current_principal per §6.
type Principal struct {
	Username string
	Role     Role
}

// IsAdmin reports whether the principal may call admin-marked endpoints.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// TokenPair is what a successful login/signup/refresh returns.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}
