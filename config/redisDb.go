package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

// GetRedisLock returns nil when Redis is not configured; callers fall back to
// an in-process lock.
func GetRedisLock() *redislock.Client {
	return locker
}

func RedisConfigured() bool {
	return strings.TrimSpace(os.Getenv("REDIS_ADDRESS")) != ""
}

// ConnectRedisWithRetry connects and sets the global Redis client + lock client.
// Call this from main() AFTER the HTTP server is listening. It is a no-op when
// REDIS_ADDRESS is unset (single-instance deployments).
func ConnectRedisWithRetry(ctx context.Context) {
	if !RedisConfigured() {
		GetLogger().WithFields(logrus.Fields{"field": "redis"}).Info("REDIS_ADDRESS not set; run locks are process-local")
		return
	}
	redisAddr := strings.TrimSpace(os.Getenv("REDIS_ADDRESS"))

	var attempt int
	for {
		attempt++
		client := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intFromEnv("REDIS_DB", 0),
			PoolSize: intFromEnv("REDIS_POOL_SIZE", 20),
		})
		err := client.Ping(ctx).Err()
		if err == nil {
			rdb = client
			locker = redislock.New(rdb)
			GetLogger().WithFields(logrus.Fields{"field": "redis", "attempt": attempt, "addr": redisAddr}).Info("connected to redis")
			return
		}
		_ = client.Close()

		sleep := backoffDelay(attempt)
		LogError(GetLogger(), "redisDb.go", "ConnectRedisWithRetry", "Connecting redis, retrying in "+sleep.String(), map[string]any{"attempt": attempt, "addr": redisAddr}, err)
		select {
		case <-ctx.Done():
			LogError(GetLogger(), "redisDb.go", "ConnectRedisWithRetry", "Redis connect aborted", redisAddr, ctx.Err())
			return
		case <-time.After(sleep):
		}
	}
}

func CloseRedis() error {
	if rdb == nil {
		return nil
	}
	return rdb.Close()
}
