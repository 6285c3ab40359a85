package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/churst90/open-fps-sub000/internal/vec"
)

// RedisPositionCache держит последние позиции и ориентации игроков в Redis.
// Горячий кеш поверх основного репозитория пользователей: запись best-effort
// (промах или недоступный Redis не является ошибкой запроса), чтение —
// ускорение повторного логина на другой узел.
type RedisPositionCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// CachedPosition — сериализуемая запись кеша.
type CachedPosition struct {
	MapName   string    `json:"map_name"`
	Position  vec.Vec3  `json:"position"`
	Yaw       float64   `json:"yaw"`
	Pitch     float64   `json:"pitch"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRedisPositionCache подключается к Redis и проверяет доступность.
func NewRedisPositionCache(addr string) (*RedisPositionCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPositionCache{
		client:    client,
		keyPrefix: "openfps:pos:",
		ttl:       5 * time.Minute,
	}, nil
}

// Save записывает позицию игрока (best-effort, TTL продлевается).
func (r *RedisPositionCache) Save(ctx context.Context, username string, cp CachedPosition) error {
	cp.UpdatedAt = time.Now()
	data, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.keyPrefix+username, data, r.ttl).Err()
}

// Load читает позицию игрока; (zero, false, nil) если записи нет.
func (r *RedisPositionCache) Load(ctx context.Context, username string) (CachedPosition, bool, error) {
	data, err := r.client.Get(ctx, r.keyPrefix+username).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedPosition{}, false, nil
	}
	if err != nil {
		return CachedPosition{}, false, err
	}

	var cp CachedPosition
	if err := json.Unmarshal(data, &cp); err != nil {
		return CachedPosition{}, false, err
	}
	return cp, true, nil
}

// Delete удаляет запись кеша (logout).
func (r *RedisPositionCache) Delete(ctx context.Context, username string) error {
	return r.client.Del(ctx, r.keyPrefix+username).Err()
}

// Close закрывает подключение.
func (r *RedisPositionCache) Close() error {
	return r.client.Close()
}
