// Package redisstore is a tokenstore.Store backed by Redis, for gateways that
// run more than one replica behind a load balancer.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jrsteele09/vmcp-gateway/tokenstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Connection retry limits.
const (
	DefaultConnectAttempts = 5
	DefaultDialTimeout     = 5 * time.Second
)

var _ tokenstore.Store = (*Store)(nil)

// Store keeps each entry as a plain string key "<prefix><name>".
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// New wraps an existing client. A zero ttl stores entries without expiry.
func New(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *Store {
	return &Store{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// Connect parses a redis:// URL, dials it and pings with exponential backoff
// before returning the store.
func Connect(ctx context.Context, rawURL, keyPrefix string, ttl time.Duration) (*Store, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	client := redis.NewClient(opts)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 200 * time.Millisecond
	expBackoff.MaxInterval = 5 * time.Second

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, client.Ping(ctx).Err()
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(DefaultConnectAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warn().Err(err).Str("addr", opts.Addr).Dur("retry_in", d).Msg("redis not reachable")
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client, keyPrefix, ttl), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(name string) string {
	return s.keyPrefix + name
}

func (s *Store) Get(ctx context.Context, name string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", name, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, name, value string) error {
	if err := s.client.Set(ctx, s.key(name), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", name, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.key(name)).Err(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", name, err)
	}
	return nil
}

// Take uses GETDEL so concurrent replicas cannot both consume the same value.
func (s *Store) Take(ctx context.Context, name string) (string, bool, error) {
	v, err := s.client.GetDel(ctx, s.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to take %s: %w", name, err)
	}
	return v, true, nil
}
