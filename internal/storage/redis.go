package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisOpTimeout = 2 * time.Second

// Redis stores keys in a Redis database. Useful when several panels share
// one cache.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to addr and verifies the connection with PING.
func NewRedis(addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  redisOpTimeout,
		WriteTimeout: redisOpTimeout,
		MaxRetries:   3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{client: client}, nil
}

func (r *Redis) Get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %q: %w", key, err)
	}
	return v, nil
}

func (r *Redis) Set(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		if strings.HasPrefix(err.Error(), "OOM") {
			return fmt.Errorf("set %q: %w", key, ErrQuota)
		}
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Remove(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Keys(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	var keys []string
	iter := r.client.Scan(ctx, 0, globEscape(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}
	return keys, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// globEscape quotes the MATCH pattern metacharacters in s so a prefix is
// matched literally.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
