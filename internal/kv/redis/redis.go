// Package redis implements kv.Store with one Redis hash per collection.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/gchat/internal/kv"
)

// Store is a kv.Store backed by HGET/HSET/HDEL.
type Store struct {
	client redis.UniversalClient
}

// Open parses a redis:// URL, connects and pings the server.
func Open(redisURL string) (*Store, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL must be provided")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:     []string{opts.Addr},
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	slog.Info("connected to redis kv store", "addr", opts.Addr, "db", opts.DB)
	return &Store{client: client}, nil
}

// New wraps an existing client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, collection, key string) ([]byte, error) {
	v, err := s.client.HGet(ctx, collection, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv redis get: %w", err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, collection, key string, value []byte) error {
	if err := s.client.HSet(ctx, collection, key, value).Err(); err != nil {
		return fmt.Errorf("kv redis set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if err := s.client.HDel(ctx, collection, key).Err(); err != nil {
		return fmt.Errorf("kv redis delete: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.client.Close() }
