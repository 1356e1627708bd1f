package user

import (
	"errors"
	"strings"
	"time"
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// user id is opaque and caller-supplied, so blank checks are the whole contract here
var ErrInvalidInput = errors.New("user id and name must be non-blank")
var ErrDuplicate = errors.New("user already exists")
var ErrNotFound = errors.New("user not found")

type CreateUserRequest struct {
	ID   string `json:"userId" binding:"required"`
	Name string `json:"name" binding:"required"`
}

// New builds a validated User. Users are immutable once created.
func New(id, name string) (User, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(name) == "" {
		return User{}, ErrInvalidInput
	}

	return User{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}, nil
}
