// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
)

type UserID string

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

// NewUser validates an identity handed over by the authentication collaborator.
func NewUser(id, username string) (*User, error) {
	if id == "" {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	if username == "" {
		username = "guest"
	}
	return &User{ID: UserID(id), Username: username}, nil
}

// NewGuest creates an anonymous user with a random id.
func NewGuest() *User {
	return &User{ID: UserID(uuid.NewString()), Username: "guest"}
}
