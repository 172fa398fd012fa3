package types

import "time"

// CredentialRequest registers or rotates a stored login credential. The
// secret only ever travels in this request body; it is never echoed back.
type CredentialRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

// CredentialView is the secret-free projection of a stored credential,
// including its login-health counters.
type CredentialView struct {
	Name              string     `json:"name"`
	Username          string     `json:"username"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastLoginAttempt  *time.Time `json:"last_login_attempt,omitempty"`
	LoginSuccessCount int        `json:"login_success_count"`
	LoginFailureCount int        `json:"login_failure_count"`
}
