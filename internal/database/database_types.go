package database

import (
	"context"
	"errors"
	"time"
)

const (
	UserCollectionName = "users"
)

var (
	UsernameEmptyError = errors.New("username is empty")
	ErrUserNotFound    = errors.New("user does not exist")
	ErrUserExists      = errors.New("user already exists")
)

// User is a stored account. Only the bcrypt hash of the password is kept.
type User struct {
	Username     string    `bson:"username"`
	PasswordHash []byte    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
}

// UserStore persists accounts for the user registry.
type UserStore interface {
	// GetUser returns ErrUserNotFound when no account exists.
	GetUser(ctx context.Context, username string) (*User, error)
	// CreateUser returns ErrUserExists when the username is taken.
	CreateUser(ctx context.Context, user *User) error
	// SaveUser inserts or replaces an account.
	SaveUser(ctx context.Context, user *User) error
}

func NewUser(username string, passwordHash []byte) *User {
	return &User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
}
