// Package domain contains entity without logic, just meta-data
package domain

import (
	"strings"
)

type User struct {
	Username string `json:"username"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
// Credentials were checked upstream; only emptiness is rejected here.
func NewUser(username string) (*User, error) {
	username = strings.TrimSpace(username)
	if len(username) == 0 {
		return nil, ErrUsernameEmpty
	}
	return &User{Username: username}, nil
}
