package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

const loginRateWindow = time.Hour

// loginLimiter 以固定小时窗口统计每个 IP+邮箱 的登录尝试次数。
type loginLimiter struct {
	counter redisRateCounter
	limit   int64
}

// newLoginLimiter 在未配置计数器或限额时返回 nil，nil 限流器放行所有请求。
func newLoginLimiter(counter redisRateCounter, perHour int) *loginLimiter {
	if counter == nil || perHour <= 0 {
		return nil
	}
	return &loginLimiter{counter: counter, limit: int64(perHour)}
}

func loginRateKey(ip, email string, at time.Time) string {
	return "rate:login:" + ip + ":" + email + ":" + at.UTC().Format("2006010215")
}

// allow 记一次尝试并返回是否仍在限额内。计数失败时返回 true 与错误。
func (l *loginLimiter) allow(ctx context.Context, key string) (bool, error) {
	if l == nil {
		return true, nil
	}
	count, err := incrWithTTL(ctx, l.counter, key, loginRateWindow)
	if err != nil {
		return true, err
	}
	return count <= l.limit, nil
}

// incrWithTTL 只在窗口内第一次计数时设置过期时间。
func incrWithTTL(ctx context.Context, client redisRateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}
