package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"storefront/internal/cache"
)

// RateLimit is a fixed window limiter keyed by client IP and scope, counted
// in Redis so that every instance shares the window. Redis errors let the
// request through.
func RateLimit(store cache.Store, scope string, limit int, window time.Duration) gin.HandlerFunc {
	if window < time.Second {
		window = time.Minute
	}
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}

		bucket := time.Now().Unix() / int64(window.Seconds())
		key := "ratelimit:" + scope + ":" + c.ClientIP() + ":" + strconv.FormatInt(bucket, 10)

		count, err := store.Incr(c.Request.Context(), key, window)
		if err != nil {
			if !errors.Is(err, cache.ErrUnavailable) {
				log.Warn().Str("component", "ratelimit").Err(err).Msg("rate limit store unavailable")
			}
			c.Next()
			return
		}

		remaining := limit - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if int(count) > limit {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			abortJSON(c, http.StatusTooManyRequests, "too many requests, please try again later")
			return
		}
		c.Next()
	}
}
