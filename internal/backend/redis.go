package backend

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/mpataki/pipestatus/internal/config"
)

const registryKey = "all-pipelines"

type Redis struct {
	client *redis.Client
	prefix string
}

var _ Backend = (*Redis)(nil)

func NewRedis(ctx context.Context, cfg config.Redis) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.Addr)
	}
	return NewRedisWithClient(client, cfg.Prefix), nil
}

// NewRedisWithClient wraps an existing client. The backend owns the client
// and closes it on Close.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Client exposes the underlying client so leases can share the connection.
func (r *Redis) Client() *redis.Client {
	return r.client
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) GetStatus(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s", key)
	}
	return val, nil
}

func (r *Redis) SetStatus(ctx context.Context, key string, value []byte) error {
	err := r.client.Set(ctx, r.prefix+key, value, 0).Err()
	return errors.Wrapf(err, "failed to set %s", key)
}

func (r *Redis) DelStatus(ctx context.Context, key string) error {
	err := r.client.Del(ctx, r.prefix+key).Err()
	return errors.Wrapf(err, "failed to delete %s", key)
}

func (r *Redis) RegisterPipelineID(ctx context.Context, id string) error {
	err := r.client.SAdd(ctx, r.prefix+registryKey, id).Err()
	return errors.Wrapf(err, "failed to register pipeline %s", id)
}

func (r *Redis) DeregisterPipelineID(ctx context.Context, id string) error {
	err := r.client.SRem(ctx, r.prefix+registryKey, id).Err()
	return errors.Wrapf(err, "failed to deregister pipeline %s", id)
}

func (r *Redis) AllPipelineIDs(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, r.prefix+registryKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pipelines")
	}
	sort.Strings(ids)
	return ids, nil
}
