package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/ignatzorin/freelance-escrow/internal/logger"
)

// NewLimiterStore хранилище счётчиков: Redis, если клиент передан, иначе память процесса.
// Общий Redis нужен, когда экземпляров сервера несколько.
func NewLimiterStore(rdb *redis.Client) (limiter.Store, error) {
	if rdb == nil {
		return memory.NewStore(), nil
	}
	store, err := redisstore.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "escrow:limiter"})
	if err != nil {
		return nil, fmt.Errorf("rate limit: redis store: %w", err)
	}
	return store, nil
}

// RateLimitMiddleware создаёт middleware для ограничения количества запросов.
// Ключ: пользователь, если он уже известен, иначе IP.
func RateLimitMiddleware(store limiter.Store, limit int64, period time.Duration) gin.HandlerFunc {
	if limit <= 0 {
		limit = 10
	}
	if period <= 0 {
		period = 1 * time.Minute
	}
	if store == nil {
		store = memory.NewStore()
	}

	instance := limiter.New(store, limiter.Rate{
		Period: period,
		Limit:  limit,
	})

	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID, ok := c.Get(ContextUserIDKey); ok {
			key = fmt.Sprint(userID)
		}
		context, err := instance.Get(c, key)
		if err != nil {
			// хранилище недоступно: пропускаем запрос, лимит не критичен для денег
			logger.Log.WithError(err).Warn("rate limit: хранилище недоступно")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", context.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", context.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", context.Reset))

		if context.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "слишком много запросов, попробуйте позже",
			})
			return
		}

		c.Next()
	}
}
