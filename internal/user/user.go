// Package user is the recipient directory: who can receive offers and how
// to reach them.
package user

import (
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("user not found")

type Role string

const (
	RoleBlogger    Role = "blogger"
	RoleAdvertiser Role = "advertiser"
	RoleBoth       Role = "both"
)

type Status string

const (
	StatusNew     Status = "new"
	StatusActive  Status = "active"
	StatusPause   Status = "pause"
	StatusBlocked Status = "blocked"
)

type User struct {
	ID         uuid.UUID `json:"user_id"`
	ExternalID string    `json:"external_id"`
	Username   string    `json:"username"`
	Role       Role      `json:"role"`
	Status     Status    `json:"status"`
	Confirmed  bool      `json:"confirmed"`
}

// HasRole reports whether u acts in role r; RoleBoth covers either side.
func (u User) HasRole(r Role) bool {
	return u.Role == r || u.Role == RoleBoth
}

func (u User) Active() bool { return u.Status == StatusActive }
