package analysis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"document-backend/internal/shared/telemetry"
)

const (
	lockPrefix     = "docpipe:analysis:lock:"
	defaultLockTTL = 5 * time.Minute
)

// releaseScript deletes the lock only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard is a Guard shared by every process pointed at one Redis.
// Locks expire after TTL so a crashed worker cannot pin a document.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, documentID string) (func(), error) {
	token, err := lockToken()
	if err != nil {
		return nil, err
	}
	key := lockPrefix + documentID
	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInFlight
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, g.client, []string{key}, token).Err(); err != nil {
			telemetry.Warn("analysis.lock_release_failed", map[string]any{
				"document_id": documentID,
				"error":       err,
			})
		}
	}, nil
}

func lockToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
