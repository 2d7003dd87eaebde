package models

import "time"

// Action is the kind of an activity-log entry.
type Action string

const (
	ActionLoginSuccess      Action = "login_success"
	ActionLoginFailed       Action = "login_failed"
	ActionUserRegistered    Action = "user_registered"
	ActionLogout            Action = "logout"
	ActionSessionRotated    Action = "session_rotated"
	ActionRememberTokenUsed Action = "remember_token_used"
)

// ActivityLogEntry is one append-only audit record. UserID is nil when the
// event could not be tied to an account, e.g. a login for an unknown email.
type ActivityLogEntry struct {
	ID        int64                  `json:"id" db:"id"`
	UserID    *int64                 `json:"user_id,omitempty" db:"user_id"`
	Action    Action                 `json:"action" db:"action"`
	Details   map[string]interface{} `json:"details" db:"details"`
	IPAddress string                 `json:"ip_address" db:"ip_address"`
	UserAgent string                 `json:"user_agent" db:"user_agent"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// RequestMeta carries the per-request attributes recorded with every
// activity-log entry. Handlers build it once and pass it down explicitly.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}
