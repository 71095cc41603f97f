package storage

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Namespace is the hash that holds every key.
	Namespace string
}

// Redis keeps all keys as fields of one hash so listing never needs SCAN.
type Redis struct {
	client *redis.Client
	hash   string
	log    zerolog.Logger
}

func NewRedis(ctx context.Context, opts RedisOptions, log zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "connect to redis at %s", opts.Addr)
	}

	hash := opts.Namespace
	if hash == "" {
		hash = "storyloom:kv"
	}
	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Str("hash", hash).Msg("redis storage ready")
	return &Redis{client: client, hash: hash, log: log}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.HGet(ctx, r.hash, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if !validKey(key) {
		return ErrInvalidKey
	}
	return errors.Wrapf(r.client.HSet(ctx, r.hash, key, value).Err(), "set %s", key)
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return errors.Wrapf(r.client.HDel(ctx, r.hash, key).Err(), "delete %s", key)
}

func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	all, err := r.client.HKeys(ctx, r.hash).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list keys")
	}
	var keys []string
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
