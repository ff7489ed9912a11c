// Package store persists the set of links that have already been notified.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Driver names accepted by Open.
const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// DefaultRedisKey is the set key used when none is configured.
const DefaultRedisKey = "grantwatch:seen"

// Store loads and saves the seen-set wholesale.
type Store interface {
	// Load returns the persisted set, or an empty set when nothing was
	// persisted yet. Every loaded link is re-normalized.
	Load(ctx context.Context) (Set, error)
	// Save replaces the persisted set with s.
	Save(ctx context.Context, s Set) error
	Close() error
}

// PersistenceError reports a failed load or save.
type PersistenceError struct {
	Op  string // "load" or "save"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s seen-set: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func loadErr(err error) error { return &PersistenceError{Op: "load", Err: err} }
func saveErr(err error) error { return &PersistenceError{Op: "save", Err: err} }

var errNotInitialized = errors.New("store is not initialized")

// Options selects and configures a backend.
type Options struct {
	Driver string
	Path   string // json file or sqlite database

	RedisAddress  string
	RedisPassword string
	RedisDB       int
	RedisKey      string
}

const redisPingTimeout = 5 * time.Second

// Open returns the backend named by opts.Driver. An empty driver means json.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverJSON:
		return NewFileStore(opts.Path)
	case DriverSQLite:
		return OpenSQLite(opts.Path)
	case DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddress,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", opts.RedisAddress, err)
		}
		return NewRedisStore(client, opts.RedisKey), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
