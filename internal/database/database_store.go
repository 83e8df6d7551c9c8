package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const defaultOperationTimeout = 5 * time.Second

// DBStore is a UserStore over a MongoDB collection with a read-through LRU
// cache of accounts.
type DBStore struct {
	users            *mongo.Collection
	userCache        *expirable.LRU[string, *User]
	operationTimeout time.Duration
}

func NewDatabaseStore(users *mongo.Collection, operationTimeout time.Duration, cacheSize int, cacheTTL time.Duration) *DBStore {
	if operationTimeout <= 0 {
		operationTimeout = defaultOperationTimeout
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	return &DBStore{
		users:            users,
		userCache:        expirable.NewLRU[string, *User](cacheSize, nil, cacheTTL),
		operationTimeout: operationTimeout,
	}
}

func wrapErr(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("unique key conflicts: %w: %w", ErrUserExists, err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("document does not exist: %w: %w", ErrUserNotFound, err)
	}
	return fmt.Errorf("database operation failed: %w", err)
}

func (ds *DBStore) GetUser(ctx context.Context, username string) (*User, error) {
	if username == "" {
		return nil, UsernameEmptyError
	}
	if user, ok := ds.userCache.Get(username); ok {
		copied := *user
		return &copied, nil
	}

	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "username", Value: username}}
	var user User

	startTime := time.Now()
	err := ds.users.FindOne(ctx, filter).Decode(&user)
	logger.DebugF("user query cost: %v", time.Since(startTime))

	if err != nil {
		return nil, wrapErr(err)
	}
	ds.userCache.Add(username, &user)
	copied := user
	return &copied, nil
}

func (ds *DBStore) CreateUser(ctx context.Context, user *User) error {
	if user.Username == "" {
		return UsernameEmptyError
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	if _, err := ds.users.InsertOne(ctx, user); err != nil {
		return wrapErr(err)
	}
	ds.userCache.Remove(user.Username)
	logger.InfoF("User created: username=%s", user.Username)
	return nil
}

func (ds *DBStore) SaveUser(ctx context.Context, user *User) error {
	if user.Username == "" {
		return UsernameEmptyError
	}
	ctx, cancel := context.WithTimeout(ctx, ds.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "username", Value: user.Username}}
	opts := options.Replace().SetUpsert(true)

	result, err := ds.users.ReplaceOne(ctx, filter, user, opts)
	ds.userCache.Remove(user.Username)
	if err != nil {
		return wrapErr(err)
	}

	logger.InfoF("User saved: username=%s, matched=%d, modified=%d, upserted=%v",
		user.Username,
		result.MatchedCount,
		result.ModifiedCount,
		result.UpsertedID != nil,
	)
	return nil
}
