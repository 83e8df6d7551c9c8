package database

import (
	"context"
	"sync"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
)

// MemoryStore keeps accounts in process memory. It is the store used when
// MongoDB is disabled; accounts are lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*User),
	}
}

func (ms *MemoryStore) GetUser(_ context.Context, username string) (*User, error) {
	if username == "" {
		return nil, UsernameEmptyError
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	user, ok := ms.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *user
	return &copied, nil
}

func (ms *MemoryStore) CreateUser(_ context.Context, user *User) error {
	if user.Username == "" {
		return UsernameEmptyError
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.users[user.Username]; ok {
		return ErrUserExists
	}
	copied := *user
	ms.users[user.Username] = &copied
	logger.DebugF("User created in memory store: username=%s", user.Username)
	return nil
}

func (ms *MemoryStore) SaveUser(_ context.Context, user *User) error {
	if user.Username == "" {
		return UsernameEmptyError
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	copied := *user
	ms.users[user.Username] = &copied
	return nil
}

// Len returns the number of stored accounts.
func (ms *MemoryStore) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.users)
}
