package middleware

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig config for Redis-based RPS limiter.
type RateLimitConfig struct {
	Redis          *redis.Client
	DefaultRPS     int           // 0 disables limiting
	KeyPrefix      string        // e.g. "rl:ip:"
	Window         time.Duration // usually 1s
	RetryAfterHint bool          // set Retry-After header when limited
}

// RateLimitMiddleware applies a simple fixed-window per-client-IP RPS limit.
// The API carries no authentication, so the remote address is the only
// caller identity available.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:ip:"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.DefaultRPS <= 0 || cfg.Redis == nil {
				// no limit configured or redis missing (dev): allow
				return next(c)
			}

			ip := c.RealIP()
			if ip == "" {
				return next(c)
			}

			// fixed-window key: rl:ip:{addr}:{unix_sec}
			now := time.Now()
			key := cfg.KeyPrefix + ip + ":" + strconv.FormatInt(now.Unix(), 10)

			// INCR and set expiry 2*window (safety)
			pipe := cfg.Redis.Pipeline()
			cnt := pipe.Incr(c.Request().Context(), key)
			pipe.Expire(c.Request().Context(), key, cfg.Window*2)
			_, err := pipe.Exec(c.Request().Context())
			if err != nil {
				return next(c)
			}

			if cnt.Val() > int64(cfg.DefaultRPS) {
				if cfg.RetryAfterHint {
					// seconds until next window
					remain := cfg.Window - time.Duration(now.UnixNano()%int64(cfg.Window))
					if remain > 0 {
						c.Response().Header().Set("Retry-After", strconv.Itoa(int(remain.Round(time.Second)/time.Second)))
					}
				}
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			}
			return next(c)
		}
	}
}
