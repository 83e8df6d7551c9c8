// Package users authenticates logins and tracks which connection currently
// owns each username's session.
package users

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/database"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnknownUser     = errors.New("unknown user")
	ErrWrongPassword   = errors.New("wrong password")
	ErrAlreadyLoggedIn = errors.New("user already logged in")
)

type Options struct {
	// AutoRegister creates an account for an unseen username on its first login.
	AutoRegister bool
	BcryptCost   int
}

type Registry struct {
	store database.UserStore
	opts  Options
	// active maps username to the id of the connection holding its session.
	active sync.Map
}

func NewRegistry(store database.UserStore, opts Options) *Registry {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Registry{store: store, opts: opts}
}

// prehash maps a password of any length to 64 bytes, inside bcrypt's
// 72 byte input limit.
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(hex.EncodeToString(sum[:]))
}

func (r *Registry) hash(password string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword(prehash(password), r.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}
	return hash, nil
}

// Provision creates or replaces an account.
func (r *Registry) Provision(ctx context.Context, username, password string) error {
	hash, err := r.hash(password)
	if err != nil {
		return err
	}
	if err := r.store.SaveUser(ctx, database.NewUser(username, hash)); err != nil {
		return fmt.Errorf("error provisioning user %s: %w", username, err)
	}
	return nil
}

// verify checks the credentials, registering the user first when allowed.
func (r *Registry) verify(ctx context.Context, username, password string) error {
	user, err := r.store.GetUser(ctx, username)
	if errors.Is(err, database.ErrUserNotFound) {
		if !r.opts.AutoRegister {
			return ErrUnknownUser
		}
		registered, regErr := r.register(ctx, username, password)
		if registered || regErr != nil {
			return regErr
		}
		// A concurrent login registered the name first.
		user, err = r.store.GetUser(ctx, username)
	}
	if err != nil {
		return fmt.Errorf("error loading user %s: %w", username, err)
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, prehash(password)) != nil {
		return ErrWrongPassword
	}
	return nil
}

// register creates the account. It reports false without error when the
// username was taken in the meantime.
func (r *Registry) register(ctx context.Context, username, password string) (bool, error) {
	hash, err := r.hash(password)
	if err != nil {
		return false, err
	}
	err = r.store.CreateUser(ctx, database.NewUser(username, hash))
	switch {
	case err == nil:
		logger.InfoF("Registered new user %s", username)
		return true, nil
	case errors.Is(err, database.ErrUserExists):
		return false, nil
	default:
		return false, fmt.Errorf("error registering user %s: %w", username, err)
	}
}

// Login verifies the credentials and binds the username's session to
// connID. At most one connection holds a username at a time; the slot is
// claimed atomically, so of two simultaneous logins exactly one succeeds.
func (r *Registry) Login(ctx context.Context, username, password, connID string) error {
	if err := r.verify(ctx, username, password); err != nil {
		return err
	}
	if owner, loaded := r.active.LoadOrStore(username, connID); loaded {
		logger.DebugF("[%s] Login for %s rejected, session held by %s", connID, username, owner)
		return ErrAlreadyLoggedIn
	}
	return nil
}

// Logout frees the username if connID still holds it.
func (r *Registry) Logout(username, connID string) bool {
	return r.active.CompareAndDelete(username, connID)
}

// ActiveSession returns the connection holding username's session.
func (r *Registry) ActiveSession(username string) (string, bool) {
	owner, ok := r.active.Load(username)
	if !ok {
		return "", false
	}
	return owner.(string), true
}
