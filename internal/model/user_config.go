package model

import "time"

// UserConfig is the per-user library profile and account standing.
type UserConfig struct {
	UserID         int64      `json:"user_id"`
	FullName       string     `json:"full_name"`
	Email          string     `json:"email,omitempty"`
	ClassName      string     `json:"class_name,omitempty"`
	Status         string     `json:"status"`
	PriorStatus    string     `json:"-"`
	SuspendedUntil *time.Time `json:"suspended_until,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Account statuses.
const (
	AccountPending   = "pending"
	AccountApproved  = "approved"
	AccountRejected  = "rejected"
	AccountSuspended = "suspended"
)

// Suspended reports whether the account is currently suspended. A suspension
// stays in force until it is explicitly lifted, even after SuspendedUntil.
func (c *UserConfig) Suspended() bool {
	return c.Status == AccountSuspended
}

// CanBorrow reports whether the account may check out books.
func (c *UserConfig) CanBorrow() bool {
	return c.Status == AccountApproved
}
