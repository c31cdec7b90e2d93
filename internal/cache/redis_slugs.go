package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openworship/cast/internal/domain"
)

// slugTTL bounds how long a stale binding answers after a crash; live
// rooms are rebound on slug claim anyway.
const slugTTL = 24 * time.Hour

type RedisSlugDirectory struct {
	client *redis.Client
	prefix string
}

func NewRedisSlugDirectory(addr, password string, db int, prefix string) (*RedisSlugDirectory, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisSlugDirectory{client: client, prefix: prefix}, nil
}

func (d *RedisSlugDirectory) key(slug domain.RoomSlug) string {
	return fmt.Sprintf("%s:slug:%s", d.prefix, slug)
}

func (d *RedisSlugDirectory) Bind(ctx context.Context, slug domain.RoomSlug, b Binding) error {
	val := fmt.Sprintf("%s/%s", b.Pin, b.RoomID)
	if err := d.client.Set(ctx, d.key(slug), val, slugTTL).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (d *RedisSlugDirectory) Resolve(ctx context.Context, slug domain.RoomSlug) (Binding, error) {
	val, err := d.client.Get(ctx, d.key(slug)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Binding{}, ErrNotBound
		}
		return Binding{}, fmt.Errorf("failed to get from redis: %w", err)
	}
	pin, roomID, ok := strings.Cut(val, "/")
	if !ok {
		return Binding{}, ErrNotBound
	}
	return Binding{Pin: domain.RoomPin(pin), RoomID: roomID}, nil
}

func (d *RedisSlugDirectory) Unbind(ctx context.Context, slug domain.RoomSlug) error {
	if err := d.client.Del(ctx, d.key(slug)).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

func (d *RedisSlugDirectory) Close() error {
	return d.client.Close()
}
