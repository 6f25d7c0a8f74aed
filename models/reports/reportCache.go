package reports

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/payrecon_backend/config"
	"github.com/mmdatafocus/payrecon_backend/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const reportCachePrefix = "report:"

// ReportCache is the subset of redis.Cmdable the report cache needs.
type ReportCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

func reportCacheEnabled() bool {
	v := strings.TrimSpace(os.Getenv("ENABLE_REPORT_CACHE"))
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes") || strings.EqualFold(v, "on")
}

func reportCacheTTL() time.Duration {
	// Env: REPORT_CACHE_TTL_SECONDS (default 120s)
	ttl := 120
	if v := strings.TrimSpace(os.Getenv("REPORT_CACHE_TTL_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = n
		}
	}
	return time.Duration(ttl) * time.Second
}

// defaultReportCache is the shared Redis client when ENABLE_REPORT_CACHE is on.
func defaultReportCache() ReportCache {
	if !reportCacheEnabled() {
		return nil
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		return rdb
	}
	return nil
}

func reportCacheKey(name string, period models.Period) string {
	return reportCachePrefix + name + ":" + string(period)
}

// cachedReport serves name/period from the cache, building and storing it on
// a miss. Cache failures fall through to build.
func cachedReport[T any](ctx context.Context, cache ReportCache, ttl time.Duration, name string, period models.Period, build func() (T, error)) (T, error) {
	if cache == nil {
		return build()
	}
	key := reportCacheKey(name, period)
	raw, err := cache.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached T
		if jerr := json.Unmarshal(raw, &cached); jerr == nil {
			return cached, nil
		}
	case !errors.Is(err, redis.Nil):
		logCacheError(key, err)
	}

	out, err := build()
	if err != nil {
		return out, err
	}
	payload, err := json.Marshal(out)
	if err == nil {
		err = cache.Set(ctx, key, payload, ttl).Err()
	}
	if err != nil {
		logCacheError(key, err)
	}
	return out, nil
}

func logCacheError(key string, err error) {
	if logger := config.GetLogger(); logger != nil {
		logger.WithFields(logrus.Fields{"field": "report_cache", "key": key}).Warn(err.Error())
	}
}
